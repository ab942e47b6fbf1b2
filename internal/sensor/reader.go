package sensor

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"time"

	mb "github.com/goburrow/modbus"

	"hlr-control/internal/bus"
	"hlr-control/internal/metrics"
)

// registerReader is the slice of the Modbus client a Reader needs.
type registerReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// Config describes one logical sensor on the shared bus.
type Config struct {
	Address  uint8 // slave id; doubles as the sensor id
	Port     string
	BaudRate int
	Timeout  time.Duration
	VOC      bool
	PreDelay time.Duration // minimum inter-transaction spacing on the port
}

func (c *Config) applyDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = 19200
	}
	if c.Timeout <= 0 {
		c.Timeout = 1500 * time.Millisecond
	}
	if c.PreDelay <= 0 {
		c.PreDelay = 30 * time.Millisecond
	}
}

// Reader performs timed, retried read transactions against one device
// address. Read never fails to its caller: internal errors degrade to an
// all-absent Reading once the retries are spent.
type Reader struct {
	cfg        Config
	regs       registerMap
	buses      *bus.Registry
	client     registerReader
	handler    io.Closer
	maxRetries int
	retryDelay time.Duration
}

// New opens an RTU handle for the sensor. If the serial port cannot be
// opened the reader still constructs, logs once, and every Read returns an
// all-absent Reading without touching the bus.
func New(cfg Config, buses *bus.Registry) *Reader {
	cfg.applyDefaults()

	r := &Reader{
		cfg:        cfg,
		regs:       standardRegisters,
		buses:      buses,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	if cfg.VOC {
		r.regs = vocRegisters
	}

	h := mb.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = cfg.Address
	h.Timeout = cfg.Timeout
	if err := h.Connect(); err != nil {
		log.Printf("sensor %d: open %s: %v (reads will return empty values)", cfg.Address, cfg.Port, err)
		return r
	}
	r.client = mb.NewClient(h)
	r.handler = h
	log.Printf("sensor %d: connected on %s", cfg.Address, cfg.Port)
	return r
}

// ID returns the sensor's bus address, which identifies it downstream.
func (r *Reader) ID() int { return int(r.cfg.Address) }

// Close releases the serial handle. On a degraded reader it is a no-op.
func (r *Reader) Close() error {
	if r.handler == nil {
		return nil
	}
	return r.handler.Close()
}

// Read samples CO2, temperature and humidity in one bus critical section,
// retrying whole transactions on failure. Values are rounded to 2 decimals.
func (r *Reader) Read() Reading {
	if r.client == nil {
		return Empty(r.ID())
	}

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		co2, temp, humid, err := r.readOnce()
		if err == nil {
			return Reading{
				SensorID:    r.ID(),
				CO2:         &co2,
				Temperature: &temp,
				Humidity:    &humid,
			}
		}
		log.Printf("sensor %d: attempt %d/%d: %v", r.ID(), attempt, r.maxRetries, err)
		metrics.SensorReadFailures.WithLabelValues(strconv.Itoa(r.ID())).Inc()
		if attempt < r.maxRetries {
			time.Sleep(r.retryDelay)
		}
	}

	log.Printf("sensor %d: all %d attempts failed, returning empty values", r.ID(), r.maxRetries)
	metrics.SensorReadsExhausted.WithLabelValues(strconv.Itoa(r.ID())).Inc()
	return Empty(r.ID())
}

// readOnce issues the three register reads inside a single bus acquisition
// so another sensor's transaction cannot interleave with ours.
func (r *Reader) readOnce() (co2, temp, humid float64, err error) {
	release := r.buses.Acquire(r.cfg.Port, r.cfg.PreDelay)
	defer release()

	if co2, err = r.readFloat(r.regs.co2); err != nil {
		return 0, 0, 0, fmt.Errorf("co2: %w", err)
	}
	if temp, err = r.readFloat(r.regs.temperature); err != nil {
		return 0, 0, 0, fmt.Errorf("temperature: %w", err)
	}
	if humid, err = r.readFloat(r.regs.humidity); err != nil {
		return 0, 0, 0, fmt.Errorf("humidity: %w", err)
	}
	return co2, temp, humid, nil
}

func (r *Reader) readFloat(addr uint16) (float64, error) {
	data, err := r.client.ReadInputRegisters(addr, 2)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("short register payload: %d bytes", len(data))
	}
	u := binary.BigEndian.Uint32(data[:4])
	return round2(float64(math.Float32frombits(u))), nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
