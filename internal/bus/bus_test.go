package bus

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireMutualExclusion(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var mu sync.Mutex
	active := 0
	overlapped := false

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				release := r.Acquire("/dev/ttyUSB0", 0)
				mu.Lock()
				active++
				if active > 1 {
					overlapped = true
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	if overlapped {
		t.Fatal("two critical sections overlapped on the same port")
	}
}

func TestAcquireMinimumSpacing(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	const spacing = 50 * time.Millisecond

	// Prime the port so the first measured gap starts from a real stamp.
	release := r.Acquire("/dev/ttyUSB1", spacing)
	prevEnd := time.Now() // taken before release, so prevEnd <= stamp
	release()

	for i := 0; i < 3; i++ {
		rel := r.Acquire("/dev/ttyUSB1", spacing)
		if gap := time.Since(prevEnd); gap < spacing {
			t.Fatalf("access %d: gap %s below minimum spacing %s", i, gap, spacing)
		}
		prevEnd = time.Now()
		rel()
	}
}

func TestSpacingUnderContention(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	const spacing = 20 * time.Millisecond

	type window struct{ enter, exit time.Time }
	var mu sync.Mutex
	var windows []window

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.Acquire("contended", spacing)
			enter := time.Now()
			time.Sleep(2 * time.Millisecond)
			exit := time.Now()
			mu.Lock()
			windows = append(windows, window{enter, exit})
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, a := range windows {
		for j, b := range windows {
			if i == j {
				continue
			}
			// Windows must be disjoint and separated by the spacing.
			if b.enter.After(a.exit) {
				if gap := b.enter.Sub(a.exit); gap < spacing {
					t.Fatalf("gap between accesses %s below %s", gap, spacing)
				}
			} else if a.enter.After(b.exit) {
				continue
			} else {
				t.Fatalf("access windows overlap: %v and %v", a, b)
			}
		}
	}
}

func TestPortsAreIndependent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	// Holding one port must not block another.
	release := r.Acquire("portA", 0)
	done := make(chan struct{})
	go func() {
		rel := r.Acquire("portB", 0)
		rel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring a different port blocked")
	}
	release()
}
