package correlator

import (
	"context"

	"github.com/sweeney/asterisk-ledger/internal/ami"
)

// worker processes the events of one key in order. pending is guarded by
// Correlator.mu and counts events sent to the worker but not yet processed.
type worker struct {
	key     string
	events  chan ami.Event
	pending int
}

// Start launches the dispatcher. Events are processed with a context that
// keeps ctx's values but not its cancellation, so queued events still reach
// the ledger during shutdown. Cancelling ctx stops the correlator.
func (c *Correlator) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	base := context.WithoutCancel(ctx)
	go c.dispatch(base)
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stopCh:
		}
	}()
}

// Submit queues evt for processing. It blocks while the intake is full and
// returns ErrStopped after Stop.
func (c *Correlator) Submit(evt ami.Event) error {
	c.submitMu.RLock()
	defer c.submitMu.RUnlock()
	if c.stopped {
		return ErrStopped
	}
	c.intake <- evt
	return nil
}

// Stop refuses further events, processes everything already queued and
// waits for the workers to finish. Events submitted before Start are
// processed too. It is safe to call more than once.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() {
		c.submitMu.Lock()
		c.stopped = true
		close(c.stopCh)
		c.submitMu.Unlock()

		c.startMu.Lock()
		started := c.started
		c.started = true
		c.startMu.Unlock()

		if started {
			<-c.dispatchDone
		} else {
			// Never started: drain what Submit accepted on this goroutine.
			c.dispatch(context.Background())
		}
		c.wg.Wait()
	})
}

func (c *Correlator) dispatch(ctx context.Context) {
	defer close(c.dispatchDone)
	for {
		select {
		case evt := <-c.intake:
			c.route(ctx, evt)
		case <-c.stopCh:
			for {
				select {
				case evt := <-c.intake:
					c.route(ctx, evt)
				default:
					return
				}
			}
		}
	}
}

// route hands evt to the worker for its key, starting one if needed.
func (c *Correlator) route(ctx context.Context, evt ami.Event) {
	key := CorrelationKey(evt)
	if key == "" {
		// Keyless events carry no session state; handle them inline.
		c.Process(ctx, evt)
		return
	}

	c.mu.Lock()
	w, ok := c.workers[key]
	if !ok {
		w = &worker{key: key, events: make(chan ami.Event, c.keyQueueSize)}
		c.workers[key] = w
		c.wg.Add(1)
		go c.runWorker(ctx, w)
	}
	w.pending++
	c.mu.Unlock()

	w.events <- evt
}

func (c *Correlator) runWorker(ctx context.Context, w *worker) {
	defer c.wg.Done()
	for evt := range w.events {
		c.Process(ctx, evt)

		c.mu.Lock()
		w.pending--
		if w.pending == 0 {
			delete(c.workers, w.key)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}
