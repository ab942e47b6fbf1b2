// Package watchdog restarts the control loop when it crashes or stalls.
package watchdog

import (
	"context"
	"log"
	"time"

	"hlr-control/internal/cycle"
	"hlr-control/internal/metrics"
)

// Worker is one supervised run of the control loop. It must return when ctx
// is cancelled and bump hb on every iteration.
type Worker func(ctx context.Context, hb *cycle.Heartbeat)

// Options tune detection and restart latency. Zero values pick defaults.
type Options struct {
	CheckEvery  time.Duration // monitor tick; default 1s
	StallAfter  time.Duration // heartbeat age that counts as a stall; default 15s
	JoinTimeout time.Duration // bounded wait for a cancelled worker; default 3s
}

func (o *Options) applyDefaults() {
	if o.CheckEvery <= 0 {
		o.CheckEvery = time.Second
	}
	if o.StallAfter <= 0 {
		o.StallAfter = 15 * time.Second
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 3 * time.Second
	}
}

// Supervisor runs a Worker in a restartable goroutine. Each run gets its own
// cancellation context and a fresh heartbeat; the monitor restarts the run
// when the goroutine exits or the heartbeat goes stale. This bounds the
// outage from a wedged control loop to roughly StallAfter plus one tick,
// whatever the cause.
type Supervisor struct {
	worker Worker
	opts   Options
}

func New(worker Worker, opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{worker: worker, opts: opts}
}

// Run supervises until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	first := true
	for {
		if !first {
			metrics.WatchdogRestarts.Inc()
			log.Printf("watchdog: restarting control loop")
		}
		first = false

		hb := cycle.NewHeartbeat()
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.worker(runCtx, hb)
		}()

		again := s.monitor(ctx, hb, done)
		cancel()
		select {
		case <-done:
		case <-time.After(s.opts.JoinTimeout):
			// The goroutine is stuck in a non-cancellable call; abandon it
			// and let the replacement take over the (idempotent) loop.
			log.Printf("watchdog: worker did not exit within %s, abandoning it", s.opts.JoinTimeout)
		}
		if !again {
			return
		}
	}
}

// monitor watches one run. It reports true when the run should be replaced
// and false when the supervisor itself is shutting down.
func (s *Supervisor) monitor(ctx context.Context, hb *cycle.Heartbeat, done <-chan struct{}) bool {
	ticker := time.NewTicker(s.opts.CheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			log.Printf("watchdog: control loop exited unexpectedly")
			return true
		case <-ticker.C:
			if age := time.Since(hb.Last()); age > s.opts.StallAfter {
				log.Printf("watchdog: heartbeat stale for %s", age.Round(time.Millisecond))
				return true
			}
		}
	}
}
