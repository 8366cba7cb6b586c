// Package poller drives the status-refresh loop for live jobs. It runs only
// while the tracker holds at least one pollable job: the tracker's count
// callback starts it once a provider id exists and the loop retires itself
// when none remain.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sorabox/sorabox/internal/gateway"
	"github.com/sorabox/sorabox/internal/job"
	"github.com/sorabox/sorabox/internal/metrics"
	"github.com/sorabox/sorabox/internal/tracker"
)

// perJobTimeout bounds one status request so a hung provider cannot stall the
// whole cycle.
const perJobTimeout = 30 * time.Second

type Poller struct {
	gw       gateway.Gateway
	tracker  *tracker.Tracker
	interval time.Duration
	logger   *slog.Logger

	// mu guards the run state and orders Start against the loop's own
	// empty-set exit check.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(gw gateway.Gateway, tr *tracker.Tracker, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		gw:       gw,
		tracker:  tr,
		interval: interval,
		logger:   logger,
	}
}

// Bind wires the poller to the tracker's pollable-job count so it runs
// exactly while there is something to poll.
func (p *Poller) Bind() {
	p.tracker.OnCountChange(func(n int) {
		if n > 0 {
			p.Start()
		}
	})
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	p.logger.Info("poller started", "interval", p.interval)
}

// Stop halts the loop and waits for an in-flight cycle to finish. It is meant
// for shutdown; during normal operation the loop retires itself. Calling Stop
// on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("poller stopped")
}

// Running reports whether the loop is currently active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First cycle runs immediately so a fresh submission is not invisible for
	// a full interval.
	for {
		p.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		// The live-set check shares the mutex with Start: either a concurrent
		// submission registers before the check and the loop keeps going, or
		// it arrives after this loop retires and Start launches a new one.
		// Placeholders do not count; they have no provider id to poll.
		p.mu.Lock()
		if p.done == done && p.tracker.PollableCount() == 0 {
			p.cancel = nil
			p.done = nil
			p.mu.Unlock()
			p.logger.Info("poller idle, stopping")
			return
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle polls every live job sequentially against a snapshot taken at the
// start. One failing job is logged and skipped; a rejected credential aborts
// the cycle and clears all live tracking.
func (p *Poller) cycle(ctx context.Context) {
	metrics.PollTicks.Inc()

	for _, j := range p.tracker.Pollable() {
		if ctx.Err() != nil {
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, perJobTimeout)
		updated, err := p.gw.Retrieve(reqCtx, j.ID)
		cancel()

		if err != nil {
			if errors.Is(err, gateway.ErrInvalidCredential) {
				p.tracker.HandleCredentialFailure(ctx)
				return
			}
			p.logger.Warn("status poll failed", "job_id", j.ID, "error", err)
			continue
		}

		switch updated.Status {
		case job.StatusCompleted:
			// The tracker removes the job before downloading, so the download
			// can run off the polling goroutine without risk of a second
			// fetch on the next tick.
			go p.tracker.CompleteJob(context.Background(), updated.ID)
		case job.StatusFailed:
			p.tracker.FailJob(ctx, updated.ID, updated.Error)
		default:
			p.tracker.ApplyUpdate(ctx, updated)
		}
	}
}
