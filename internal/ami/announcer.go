package ami

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ActionSender sends one AMI action and waits for its response. *Client
// implements it.
type ActionSender interface {
	Send(ctx context.Context, action string, kvs ...string) (Event, error)
}

// CallerIDAnnouncer rewrites CALLERID(name) on a live channel so the
// answering handset shows who is calling. The underlying connection is
// swapped on every reconnect via Attach.
type CallerIDAnnouncer struct {
	mu      sync.RWMutex
	sender  ActionSender
	limiter *rate.Limiter
	timeout time.Duration
}

// NewCallerIDAnnouncer limits announcements to perSecond actions (no limit
// when perSecond <= 0) and bounds each one by timeout.
func NewCallerIDAnnouncer(perSecond float64, timeout time.Duration) *CallerIDAnnouncer {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &CallerIDAnnouncer{
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

// Attach sets the connection used for announcements. Pass nil on disconnect.
func (a *CallerIDAnnouncer) Attach(s ActionSender) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sender = s
}

// Announce sets CALLERID(name)=identity on channel.
func (a *CallerIDAnnouncer) Announce(ctx context.Context, channel, identity string) error {
	if channel == "" {
		return errors.New("ami: announce without channel")
	}

	a.mu.RLock()
	s := a.sender
	a.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for action budget: %w", err)
	}

	_, err := s.Send(ctx, "Setvar",
		"Channel", channel,
		"Variable", "CALLERID(name)",
		"Value", identity,
	)
	return err
}
