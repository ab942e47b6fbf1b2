// Package cycle drives the regeneration cycle: it owns the persisted phase
// row, decides transitions on elapsed time, and commands the actuator.
package cycle

import (
	"context"
	"errors"
	"log"
	"time"

	"hlr-control/internal/metrics"
	"hlr-control/internal/model"
	"hlr-control/internal/store"
)

// Store is the slice of the state store the engine mutates. The engine is
// the single writer of the cycle row.
type Store interface {
	GetCycleState(ctx context.Context) (model.CycleState, error)
	GetSettingProfile(ctx context.Context, cyclicName string) (model.SettingProfile, error)
	SetPhase(ctx context.Context, startMS, endMS int64, phase model.Phase) error
	SetPhaseAndLoop(ctx context.Context, startMS, endMS int64, phase model.Phase, loopRemaining int) error
	SetActive(ctx context.Context, active bool) error
	Reconnect() error
}

// Actuator is the remote command surface the engine drives.
type Actuator interface {
	Send(ctx context.Context, phase model.Phase, heater bool, fanVolt float64, durationMin int) bool
	Stop(ctx context.Context) error
	EmergencyShutdown(ctx context.Context) error
}

const msPerMinute = 60 * 1000

// safeStateTimeout bounds the detached writes that park the cycle after an
// unreachable actuator.
const safeStateTimeout = 10 * time.Second

// Engine is the cycle state machine. Run iterates until the context ends;
// every failure mode inside an iteration is absorbed so the loop never
// terminates itself; stalls and crashes are the watchdog's department.
type Engine struct {
	store Store
	act   Actuator
	hb    *Heartbeat

	now       func() time.Time
	idleWait  time.Duration // between iterations when nothing moved
	busyWait  time.Duration // right after a transition, keeps timing tight
	beatEvery time.Duration // heartbeat cadence while a send is in flight
}

func New(st Store, act Actuator, hb *Heartbeat) *Engine {
	return &Engine{
		store:     st,
		act:       act,
		hb:        hb,
		now:       time.Now,
		idleWait:  time.Second,
		busyWait:  200 * time.Millisecond,
		beatEvery: time.Second,
	}
}

// Run executes the iteration loop until ctx is cancelled. The heartbeat is
// bumped once per iteration regardless of outcome.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("cycle: control loop started")
	for {
		wait := e.iterate(ctx)
		e.hb.Beat()

		select {
		case <-ctx.Done():
			log.Printf("cycle: control loop stopped")
			return
		case <-time.After(wait):
		}
	}
}

// iterate performs one pass of the state machine and returns how long to
// idle before the next one. It never panics out.
func (e *Engine) iterate(ctx context.Context) (wait time.Duration) {
	wait = e.idleWait
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("cycle: iteration panicked: %v", rec)
			wait = e.idleWait
		}
	}()

	st, err := e.store.GetCycleState(ctx)
	if err != nil {
		e.storeFailure("load cycle state", err)
		return e.idleWait
	}
	if !st.IsStart {
		return e.idleWait
	}

	nowMS := e.now().UnixMilli()

	if st.LoopRemaining <= 0 && nowMS >= st.EndTimeMS {
		log.Printf("cycle: loop counter exhausted, ending cycle %q", st.CyclicName)
		if err := e.act.Stop(ctx); err != nil {
			log.Printf("cycle: stop command: %v", err)
		}
		e.persistEnd(ctx)
		return e.idleWait
	}

	prof, err := e.store.GetSettingProfile(ctx, st.CyclicName)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			// No profile, no transition; try again next tick.
			log.Printf("cycle: %v", err)
			return e.idleWait
		}
		e.storeFailure("load setting profile", err)
		return e.idleWait
	}

	// First pass is commanded unconditionally; everything after is gated on
	// the phase window having elapsed.
	if st.SystemState == model.PhaseRegenFirst {
		log.Printf("cycle: first regen for %q", st.CyclicName)
		return e.transition(ctx, step{
			command: model.PhaseRegen, heater: true, fanVolt: prof.RegenFanVolt,
			durationMin: prof.RegenDuration, next: model.PhaseCooldown,
		}, st)
	}
	if st.EndTimeMS <= 0 || nowMS < st.EndTimeMS {
		return e.idleWait
	}

	switch st.SystemState {
	case model.PhaseRegen:
		return e.transition(ctx, step{
			command: model.PhaseRegen, heater: true, fanVolt: prof.RegenFanVolt,
			durationMin: prof.RegenDuration, next: model.PhaseCooldown,
		}, st)
	case model.PhaseCooldown:
		return e.transition(ctx, step{
			command: model.PhaseCooldown, fanVolt: prof.CoolFanVolt,
			durationMin: prof.CoolDuration, next: model.PhaseIdle,
		}, st)
	case model.PhaseIdle:
		return e.transition(ctx, step{
			command: model.PhaseIdle, fanVolt: 0,
			durationMin: prof.IdleDuration, next: model.PhaseScrub,
		}, st)
	case model.PhaseScrub:
		return e.transition(ctx, step{
			command: model.PhaseScrub, fanVolt: prof.ScabFanVolt,
			durationMin: prof.ScabDuration, next: model.PhaseRegen,
			decrementLoop: true,
		}, st)
	default:
		return e.idleWait
	}
}

// step is one row of the transition table.
type step struct {
	command       model.Phase
	heater        bool
	fanVolt       float64
	durationMin   int
	next          model.Phase
	decrementLoop bool
}

// transition commands the actuator and, only on success, advances the
// persisted phase and timing window. A refused command leaves the row
// untouched except for the forced safe state after retry exhaustion.
func (e *Engine) transition(ctx context.Context, s step, st model.CycleState) time.Duration {
	if !e.send(ctx, s) {
		e.forceSafeState(ctx)
		return e.idleWait
	}

	startMS := e.now().UnixMilli()
	endMS := startMS + int64(s.durationMin)*msPerMinute

	// The loop decrement rides in the same UPDATE as the phase change so a
	// failed write cannot leave the counter spent with the phase unmoved.
	var err error
	if s.decrementLoop {
		err = e.store.SetPhaseAndLoop(ctx, startMS, endMS, s.next, st.LoopRemaining-1)
	} else {
		err = e.store.SetPhase(ctx, startMS, endMS, s.next)
	}
	if err != nil {
		e.storeFailure("persist phase", err)
		return e.idleWait
	}

	metrics.PhaseTransitions.WithLabelValues(string(s.next)).Inc()
	log.Printf("cycle: %s -> %s (window %d min)", st.SystemState, s.next, s.durationMin)
	return e.busyWait
}

// send issues the actuator command while keeping the heartbeat moving. A
// dead actuator makes Send block for its full retry schedule, which must
// read as slow I/O, not as a stalled loop.
func (e *Engine) send(ctx context.Context, s step) bool {
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(e.beatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				e.hb.Beat()
			}
		}
	}()
	return e.act.Send(ctx, s.command, s.heater, s.fanVolt, s.durationMin)
}

// forceSafeState parks the cycle after the actuator became unreachable: the
// physical process must not sit in an ambiguous phase. The run context may
// already be cancelled when we get here (a stall restart can land mid-send),
// so the parking writes and the emergency call run on their own bounded
// context. The emergency call is best effort.
func (e *Engine) forceSafeState(ctx context.Context) {
	log.Printf("cycle: actuator unreachable, forcing safe state")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), safeStateTimeout)
	defer cancel()
	if err := e.store.SetPhase(sctx, 0, 0, model.PhaseEnd); err != nil {
		e.storeFailure("force phase=end", err)
	}
	if err := e.store.SetActive(sctx, false); err != nil {
		e.storeFailure("force inactive", err)
	}
	if err := e.act.EmergencyShutdown(sctx); err != nil {
		log.Printf("cycle: emergency shutdown call: %v", err)
	}
}

// persistEnd records the regular end of the cyclic loop.
func (e *Engine) persistEnd(ctx context.Context) {
	if err := e.store.SetPhase(ctx, 0, 0, model.PhaseEnd); err != nil {
		e.storeFailure("persist end", err)
		return
	}
	if err := e.store.SetActive(ctx, false); err != nil {
		e.storeFailure("mark inactive", err)
	}
	metrics.PhaseTransitions.WithLabelValues(string(model.PhaseEnd)).Inc()
}

// storeFailure logs a persistence error and kicks off a reconnect; the loop
// continues either way.
func (e *Engine) storeFailure(op string, err error) {
	log.Printf("cycle: %s: %v", op, err)
	if rerr := e.store.Reconnect(); rerr != nil {
		log.Printf("cycle: %v", rerr)
	}
}
