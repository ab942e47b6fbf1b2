package poller

import (
	"sync/atomic"
	"testing"
	"time"

	"hlr-control/internal/sensor"
)

type fakeSensor struct {
	id     int
	reads  atomic.Int64
	panics bool
}

func (f *fakeSensor) ID() int { return f.id }

func (f *fakeSensor) Read() sensor.Reading {
	f.reads.Add(1)
	if f.panics {
		panic("sensor wedged")
	}
	v := 1.0
	return sensor.Reading{SensorID: f.id, CO2: &v, Temperature: &v, Humidity: &v}
}

func fastOptions(interval time.Duration) Options {
	return Options{
		Interval:    interval,
		JitterMin:   time.Millisecond,
		JitterMax:   2 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	}
}

func TestStartStopIdempotence(t *testing.T) {
	p := New([]SensorReader{&fakeSensor{id: 1}}, fastOptions(50*time.Millisecond))

	if !p.Start() {
		t.Fatal("first Start should succeed")
	}
	if p.Start() {
		t.Fatal("second Start should report already running")
	}

	ok, err := p.Stop()
	if err != nil || !ok {
		t.Fatalf("Stop: ok=%v err=%v", ok, err)
	}
	ok, err = p.Stop()
	if err != nil || ok {
		t.Fatalf("second Stop should report already stopped: ok=%v err=%v", ok, err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	p := New([]SensorReader{&fakeSensor{id: 1}}, fastOptions(50*time.Millisecond))

	if !p.Start() {
		t.Fatal("Start failed")
	}
	if ok, err := p.Stop(); !ok || err != nil {
		t.Fatalf("Stop: ok=%v err=%v", ok, err)
	}
	if !p.Start() {
		t.Fatal("Start after Stop should succeed")
	}
	if ok, err := p.Stop(); !ok || err != nil {
		t.Fatalf("Stop after restart: ok=%v err=%v", ok, err)
	}
}

func TestBoundedShutdownWithLongInterval(t *testing.T) {
	// A 100s interval must not delay shutdown: the inter-round wait is tied
	// to the stop signal.
	p := New([]SensorReader{&fakeSensor{id: 1}}, fastOptions(100*time.Second))

	start := time.Now()
	p.Start()
	time.Sleep(100 * time.Millisecond)
	if ok, err := p.Stop(); !ok || err != nil {
		t.Fatalf("Stop: ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("start+stop took %s, expected under 2s", elapsed)
	}
}

func TestDriftCorrectedTickCount(t *testing.T) {
	s1 := &fakeSensor{id: 1}
	s2 := &fakeSensor{id: 2}
	p := New([]SensorReader{s1, s2}, fastOptions(250*time.Millisecond))

	p.Start()
	time.Sleep(1050 * time.Millisecond)
	if ok, err := p.Stop(); !ok || err != nil {
		t.Fatalf("Stop: ok=%v err=%v", ok, err)
	}

	// Rounds fire at t=0, 250ms, 500ms, ... so 1.05s of polling gives each
	// sensor ceil(1.05/0.25)=5 or one fewer read; more would mean the
	// schedule is drifting into catch-up bursts.
	for _, s := range []*fakeSensor{s1, s2} {
		n := s.reads.Load()
		if n < 4 || n > 5 {
			t.Fatalf("sensor %d polled %d times in 1.05s at 250ms cadence", s.id, n)
		}
	}
}

func TestQueueItemShape(t *testing.T) {
	p := New([]SensorReader{&fakeSensor{id: 7}}, fastOptions(time.Hour))

	p.Start()
	defer p.Stop()

	select {
	case item := <-p.Out():
		if item.Type != "live_sensor_data" {
			t.Fatalf("unexpected item type %q", item.Type)
		}
		if item.Data.SensorID != 7 {
			t.Fatalf("unexpected sensor id %d", item.Data.SensorID)
		}
		if item.Data.CO2 == nil {
			t.Fatal("expected co2 present for healthy sensor")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no item arrived on the output queue")
	}
}

func TestPanickingSensorIsIsolated(t *testing.T) {
	bad := &fakeSensor{id: 1, panics: true}
	good := &fakeSensor{id: 2}
	p := New([]SensorReader{bad, good}, fastOptions(time.Hour))

	p.Start()
	defer p.Stop()

	items := make(map[int]sensor.Reading, 2)
	for len(items) < 2 {
		select {
		case item := <-p.Out():
			items[item.Data.SensorID] = item.Data
		case <-time.After(2 * time.Second):
			t.Fatalf("round did not survive a panicking sensor; got %d items", len(items))
		}
	}

	if r := items[1]; r.CO2 != nil || r.Temperature != nil || r.Humidity != nil {
		t.Fatalf("panicking sensor should record an all-absent reading, got %+v", r)
	}
	if r := items[2]; r.CO2 == nil {
		t.Fatalf("healthy sensor should still be polled, got %+v", r)
	}
}
