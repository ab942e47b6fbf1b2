package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"hlr-control/internal/cycle"
)

func fastOptions() Options {
	return Options{
		CheckEvery:  10 * time.Millisecond,
		StallAfter:  50 * time.Millisecond,
		JoinTimeout: 100 * time.Millisecond,
	}
}

func TestRestartsStalledWorker(t *testing.T) {
	var starts atomic.Int64
	worker := func(ctx context.Context, hb *cycle.Heartbeat) {
		starts.Add(1)
		// Beat once, then wedge until cancelled: the heartbeat goes stale
		// while the goroutine stays alive.
		hb.Beat()
		<-ctx.Done()
	}

	s := New(worker, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for starts.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("stalled worker not restarted, starts=%d", starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRestartsCrashedWorker(t *testing.T) {
	var starts atomic.Int64
	worker := func(ctx context.Context, hb *cycle.Heartbeat) {
		starts.Add(1)
		// Return immediately: the run "crashed".
	}

	s := New(worker, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for starts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("crashed worker not restarted, starts=%d", starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestHealthyWorkerIsLeftAlone(t *testing.T) {
	var starts atomic.Int64
	worker := func(ctx context.Context, hb *cycle.Heartbeat) {
		starts.Add(1)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb.Beat()
			}
		}
	}

	s := New(worker, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop on context cancellation")
	}
	if starts.Load() != 1 {
		t.Fatalf("healthy worker restarted %d times", starts.Load()-1)
	}
}
