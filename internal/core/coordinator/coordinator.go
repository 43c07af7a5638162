// Package coordinator periodically refreshes the activity feed of one config
// entry and records the outcome in its state store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/observability"
)

// Default cadence and bounds.
const (
	DefaultInterval = 35 * time.Minute
	DefaultTimeout  = time.Minute
)

var (
	// ErrReauthRequired means the stored credentials no longer work and the
	// account has to be linked again.
	ErrReauthRequired = errors.New("coordinator: reauthentication required")
	// ErrUpdateFailed means the refresh failed for a transient reason; the
	// previous data stays published.
	ErrUpdateFailed = errors.New("coordinator: update failed")
)

// Fetcher returns the normalized activity feed of a kid.
type Fetcher interface {
	Activities(ctx context.Context, kidID string) ([]activity.Record, error)
}

// Options configures a Coordinator.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Coordinator serializes refreshes for one entry and runs them on a timer.
type Coordinator struct {
	kidID    string
	fetcher  Fetcher
	store    *state.Store
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	group singleflight.Group
	// abort cancels the in-flight refresh, if any.
	flightMu sync.Mutex
	abort    context.CancelFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	running atomic.Bool
	wakeCh  chan struct{}
}

// New creates a coordinator for kidID.
func New(kidID string, fetcher Fetcher, store *state.Store, opts Options, log *slog.Logger) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Coordinator{
		kidID:    kidID,
		fetcher:  fetcher,
		store:    store,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		log:      log,
		now:      time.Now,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Refresh fetches the feed once and applies the result. Concurrent callers
// share the in-flight refresh. A caller that gives up returns ctx.Err()
// without cancelling the refresh for the others; only the timeout and Stop
// bound the shared call.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.log.Debug("joined in-flight refresh", "kid_id", c.kidID)
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.flightMu.Lock()
	c.abort = cancel
	c.flightMu.Unlock()
	defer func() {
		c.flightMu.Lock()
		c.abort = nil
		c.flightMu.Unlock()
		cancel()
	}()

	started := c.now()
	records, err := c.fetcher.Activities(ctx, c.kidID)
	if err != nil {
		// A refresh aborted by Stop changes nothing.
		if errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, auth.ErrAuth) {
			observability.RecordRefresh(observability.ResultReauthRequired)
			c.store.SetReauthRequired(err, c.now())
			return fmt.Errorf("%w: %w", ErrReauthRequired, err)
		}
		observability.RecordRefresh(observability.ResultFailed)
		c.log.Error("error communicating with API", "kid_id", c.kidID, "error", err)
		c.store.SetUpdateFailed(err, c.now())
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	at := c.now()
	c.store.SetActivities(records, at)
	observability.RecordRefresh(observability.ResultSuccess)
	observability.RecordRefreshSuccess(c.kidID, at)
	c.log.Info("activities refreshed", "kid_id", c.kidID, "count", len(records), "took", at.Sub(started))
	return nil
}

// Start begins periodic refreshes. The first refresh is left to the caller.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})

	go c.runLoop(ctx, c.stopped)
	return nil
}

// Stop halts the timer loop, waits for it to exit and aborts any in-flight
// refresh.
func (c *Coordinator) Stop(_ context.Context) error {
	c.mu.Lock()
	if c.running.Load() {
		c.cancel()
		<-c.stopped
		c.running.Store(false)
	}
	c.mu.Unlock()

	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if c.abort != nil {
		c.abort()
	}
	return nil
}

// RequestRefresh asks the loop to refresh now instead of at the next tick.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Interval returns the refresh cadence.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

func (c *Coordinator) runLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("coordinator: shutting down", "kid_id", c.kidID)
			return
		case <-c.wakeCh:
			c.log.Info("refresh requested", "kid_id", c.kidID)
			ticker.Reset(c.interval)
		case <-ticker.C:
		}

		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("scheduled refresh failed", "kid_id", c.kidID, "error", err)
		}
	}
}
