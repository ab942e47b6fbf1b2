package cycle

import (
	"sync/atomic"
	"time"
)

// Heartbeat is the liveness timestamp shared between the control loop and
// its watchdog. The loop writes, the watchdog reads.
type Heartbeat struct {
	last atomic.Int64 // UnixNano
}

func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{}
	h.Beat()
	return h
}

// Beat records that the loop completed another iteration.
func (h *Heartbeat) Beat() { h.last.Store(time.Now().UnixNano()) }

// Last returns the time of the most recent beat.
func (h *Heartbeat) Last() time.Time { return time.Unix(0, h.last.Load()) }
