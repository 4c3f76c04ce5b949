package dedup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "processed/"

// BadgerConfig configures a Badger-backed Set.
type BadgerConfig struct {
	// Path is the database directory. Empty opens an in-memory database.
	Path string
	// Window is the entry TTL. Zero keeps entries forever.
	Window time.Duration
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	Logger     *slog.Logger
}

// Badger is a Set persisted in BadgerDB, so processed keys survive restarts
// within the window.
type Badger struct {
	db     *badger.DB
	window time.Duration
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("creating dedup directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}

	b := &Badger{
		db:     db,
		window: cfg.Window,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && cfg.Path != "" {
		go b.runGC(cfg.GCInterval)
	} else {
		close(b.doneCh)
	}
	return b, nil
}

func (b *Badger) MarkProcessed(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), nil)
		if b.window > 0 {
			e = e.WithTTL(b.window)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("marking %s processed: %w", key, err)
	}
	return nil
}

func (b *Badger) IsProcessed(key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + key))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
}

// Close stops GC and closes the database.
func (b *Badger) Close() error {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.doneCh
	return b.db.Close()
}

func (b *Badger) runGC(interval time.Duration) {
	defer close(b.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("dedup value log GC failed", "error", err)
			}
		}
	}
}
