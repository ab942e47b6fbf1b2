package bus

import (
	"sync"
	"time"
)

// Registry tracks one lock per physical serial port. The controller's
// sensors share a half-duplex RS-485 line, and the devices need a quiet
// interval after each transaction to turn the line around; Acquire enforces
// both exclusivity and that minimum spacing.
//
// Port locks are created lazily on first use and live for the life of the
// registry. The registry itself is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	ports map[string]*portLock
}

type portLock struct {
	mu         sync.Mutex
	lastAccess time.Time
}

func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]*portLock)}
}

func (r *Registry) port(name string) *portLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	pl, ok := r.ports[name]
	if !ok {
		pl = &portLock{}
		r.ports[name] = pl
	}
	return pl
}

// Release returns ownership of a port. It must be called exactly once,
// normally via defer, so the last-access stamp lands on every exit path.
type Release func()

// Acquire blocks until the port is free, then waits out whatever remains of
// minSpacing since the previous transaction on the same port. Acquire cannot
// fail, only delay. The caller performs its transaction and then invokes the
// returned Release, which stamps the port's last-access time and unlocks it.
func (r *Registry) Acquire(port string, minSpacing time.Duration) Release {
	pl := r.port(port)
	pl.mu.Lock()
	if wait := minSpacing - time.Since(pl.lastAccess); wait > 0 {
		time.Sleep(wait)
	}
	return func() {
		pl.lastAccess = time.Now()
		pl.mu.Unlock()
	}
}
