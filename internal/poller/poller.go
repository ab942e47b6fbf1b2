package poller

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"hlr-control/internal/metrics"
	"hlr-control/internal/sensor"
)

// Item is what the poller pushes onto its output queue for every sensor on
// every round, failed reads included.
type Item struct {
	Type string         `json:"type"`
	Data sensor.Reading `json:"data"`
}

const itemTypeLiveSensorData = "live_sensor_data"

// SensorReader abstracts a polled device.
type SensorReader interface {
	ID() int
	Read() sensor.Reading
}

// ErrStopTimeout is returned by Stop when the worker does not exit within
// the join timeout, which points at a stuck I/O call underneath.
var ErrStopTimeout = errors.New("poller: worker did not stop in time")

// Options tune the polling loop. Zero values pick the defaults.
type Options struct {
	Interval    time.Duration // cadence of a full round; default 60s
	JitterMin   time.Duration // per-sensor stagger lower bound; default 20ms
	JitterMax   time.Duration // per-sensor stagger upper bound; default 80ms
	QueueSize   int           // output queue capacity; default 1000
	StopTimeout time.Duration // bounded join on Stop; default 10s
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.JitterMin <= 0 {
		o.JitterMin = 20 * time.Millisecond
	}
	if o.JitterMax < o.JitterMin {
		o.JitterMax = o.JitterMin + 60*time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
}

// Poller runs a fixed-cadence background sampling loop over a set of
// sensors. Scheduling is drift-corrected: each round is timed against an
// absolute next-tick, so slow reads do not accumulate delay, and an overrun
// round resets the tick to now instead of bursting to catch up.
type Poller struct {
	readers []SensorReader
	opts    Options
	out     chan Item

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func New(readers []SensorReader, opts Options) *Poller {
	opts.applyDefaults()
	return &Poller{
		readers: readers,
		opts:    opts,
		out:     make(chan Item, opts.QueueSize),
	}
}

// Out is the many-producer FIFO consumed by ingestion. It is never closed;
// the consumer stops on its own context.
func (p *Poller) Out() <-chan Item { return p.out }

// Start launches the polling worker. It reports false if already running.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		log.Printf("poller: already running, ignoring start")
		return false
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	log.Printf("poller: started (%d sensors, interval %s)", len(p.readers), p.opts.Interval)
	return true
}

// Stop signals the worker and joins it with a bounded wait. It reports
// false if the poller was not running, and ErrStopTimeout if the worker did
// not exit within the configured timeout.
func (p *Poller) Stop() (bool, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		log.Printf("poller: already stopped, ignoring stop")
		return false, nil
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	select {
	case <-done:
		log.Printf("poller: stopped")
		return true, nil
	case <-time.After(p.opts.StopTimeout):
		return false, fmt.Errorf("%w (after %s)", ErrStopTimeout, p.opts.StopTimeout)
	}
}

func (p *Poller) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		for _, r := range p.readers {
			reading := p.readOne(r)
			select {
			case p.out <- Item{Type: itemTypeLiveSensorData, Data: reading}:
			case <-stop:
				return
			}
			// Stagger sensors so they do not pile up on the bus lock.
			if !p.wait(stop, p.jitter()) {
				return
			}
		}
		metrics.PollRounds.Inc()

		next = next.Add(p.opts.Interval)
		remaining := time.Until(next)
		if remaining <= 0 {
			// Round overran the interval; restart the clock rather than
			// firing a catch-up burst.
			next = time.Now()
			continue
		}
		if !p.wait(stop, remaining) {
			return
		}
	}
}

// readOne isolates a misbehaving reader: a panic is logged and recorded as
// an all-absent reading so the rest of the round proceeds.
func (p *Poller) readOne(r SensorReader) (reading sensor.Reading) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("poller: sensor %d read panicked: %v", r.ID(), rec)
			reading = sensor.Empty(r.ID())
		}
	}()
	return r.Read()
}

func (p *Poller) jitter() time.Duration {
	span := p.opts.JitterMax - p.opts.JitterMin
	if span <= 0 {
		return p.opts.JitterMin
	}
	return p.opts.JitterMin + time.Duration(rand.Int63n(int64(span)))
}

// wait sleeps for d or until stop fires, reporting false on stop.
func (p *Poller) wait(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
