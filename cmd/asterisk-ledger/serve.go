package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/asterisk-ledger/internal/ami"
	"github.com/sweeney/asterisk-ledger/internal/api"
	"github.com/sweeney/asterisk-ledger/internal/config"
	"github.com/sweeney/asterisk-ledger/internal/correlator"
	"github.com/sweeney/asterisk-ledger/internal/dedup"
	"github.com/sweeney/asterisk-ledger/internal/phone"
	"github.com/sweeney/asterisk-ledger/internal/publisher"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

const (
	dedupGCInterval = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to AMI and record calls (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := connectPublisher(cfg.MQTT, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, pub)
	if err != nil {
		pub.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	if err := a.run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func connectPublisher(cfg config.MQTTConfig, logger *slog.Logger) (publisher.Publisher, error) {
	if !cfg.Enabled {
		logger.Info("MQTT disabled, lifecycle messages are discarded")
		return publisher.Discard{}, nil
	}
	pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		QoS:         1,
		StatusTopic: cfg.TopicPrefix + "/status",
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	return pub, nil
}

// app holds the long-lived pieces of the service.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	processed dedup.Set
	pub       publisher.Publisher
	announcer *ami.CallerIDAnnouncer
	corr      *correlator.Correlator
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, pub publisher.Publisher) (*app, error) {
	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	processed, err := openProcessedSet(cfg.Dedup, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	announcer := ami.NewCallerIDAnnouncer(cfg.AMI.ActionRate, cfg.AMI.ActionTimeout)

	corr := correlator.New(st, st,
		correlator.WithLogger(logger),
		correlator.WithAnnouncer(announcer),
		correlator.WithPublisher(pub, cfg.MQTT.TopicPrefix),
		correlator.WithProcessedSet(processed, cfg.Dedup.Window),
		correlator.WithRules(phone.Rules{
			ExtensionPrefix: cfg.PBX.ExtensionPrefix,
			TrunkDigits:     cfg.PBX.TrunkDigits,
			MinStripLength:  cfg.PBX.MinStripLength,
		}),
		correlator.WithPBX(correlator.PBX{
			OperatorNumbers:    cfg.PBX.OperatorNumbers,
			OperatorChannels:   cfg.PBX.OperatorChannels,
			OutboundExtensions: cfg.PBX.OutboundExtensions,
			TrunkMarkers:       cfg.PBX.TrunkMarkers,
			UnknownSentinel:    cfg.PBX.UnknownSentinel,
		}),
		correlator.WithQueueSizes(cfg.Correlator.QueueSize, cfg.Correlator.KeyQueueSize),
		correlator.WithCallTimeout(cfg.Correlator.CallTimeout),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		processed: processed,
		pub:       pub,
		announcer: announcer,
		corr:      corr,
	}, nil
}

func openProcessedSet(cfg config.DedupConfig, logger *slog.Logger) (dedup.Set, error) {
	if cfg.Backend != "badger" {
		return dedup.NewMemory(cfg.Window), nil
	}
	b, err := dedup.OpenBadger(dedup.BadgerConfig{
		Path:       cfg.Path,
		Window:     cfg.Window,
		GCInterval: dedupGCInterval,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// run processes AMI events and serves the HTTP API until ctx is cancelled
// or one of them fails.
func (a *app) run(ctx context.Context) error {
	a.corr.Start(ctx)
	defer a.corr.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.amiLoop(gctx) })
	if a.cfg.HTTP.Enabled {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}
	return g.Wait()
}

// amiLoop keeps an AMI session open, reconnecting after failures.
func (a *app) amiLoop(ctx context.Context) error {
	delay := a.cfg.AMI.ReconnectDelay
	for {
		err := a.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("AMI session ended, reconnecting", "error", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// runSession dials, logs in and feeds events to the correlator until the
// connection drops. It returns nil when ctx is cancelled.
func (a *app) runSession(ctx context.Context) error {
	addr := a.cfg.AMI.Addr()
	a.logger.Info("connecting to AMI", "addr", addr)

	client, err := ami.Dial(ctx, addr, a.logger)
	if err != nil {
		return err
	}
	defer client.Close()
	a.logger.Info("AMI connected", "banner", client.Banner())

	// Asterisk streams events as soon as the login is accepted, before Login
	// returns here, so the announcer must already hold this connection.
	a.announcer.Attach(client)
	defer a.announcer.Attach(nil)

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx, a.submit) }()

	loginCtx, cancel := context.WithTimeout(ctx, a.cfg.AMI.ActionTimeout)
	err = client.Login(loginCtx, a.cfg.AMI.Username, a.cfg.AMI.Secret)
	cancel()
	if err != nil {
		client.Close()
		<-runErr
		return err
	}
	a.logger.Info("AMI authenticated, processing events")

	err = <-runErr
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *app) submit(evt ami.Event) {
	if err := a.corr.Submit(evt); err != nil {
		a.logger.Debug("event dropped", "event", evt.Type(), "error", err)
	}
}

func (a *app) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr: a.cfg.HTTP.Listen,
		Handler: api.NewRouter(a.store,
			api.WithLogger(a.logger),
			api.WithActiveCalls(a.corr.ActiveCalls),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close stops the correlator and releases everything newApp opened.
func (a *app) Close() error {
	a.corr.Stop()
	return errors.Join(
		a.pub.Close(),
		a.processed.Close(),
		a.store.Close(),
	)
}
