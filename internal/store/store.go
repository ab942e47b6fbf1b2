// Package store is the controller's access layer for the relational state
// store: cycle configuration (setting_control), the live cycle row
// (state_hlr) and the append-only sensor history (hlr_sensor_data).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"hlr-control/internal/model"
)

// ErrProfileNotFound reports a cyclic name with no setting_control row.
var ErrProfileNotFound = errors.New("store: setting profile not found")

const schema = `
CREATE TABLE IF NOT EXISTS state_hlr (
	is_start        INTEGER NOT NULL DEFAULT 0,
	cyclicName      TEXT    NOT NULL DEFAULT '',
	systemState     TEXT    NOT NULL DEFAULT 'end',
	starttime       INTEGER NOT NULL DEFAULT 0,
	endtime         INTEGER NOT NULL DEFAULT 0,
	cyclic_loop_dur INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS setting_control (
	cyclic_name    TEXT PRIMARY KEY,
	regen_fan_volt REAL    NOT NULL DEFAULT 0,
	regen_duration INTEGER NOT NULL DEFAULT 0,
	cool_fan       REAL    NOT NULL DEFAULT 0,
	cool_duration  INTEGER NOT NULL DEFAULT 0,
	idle_duration  INTEGER NOT NULL DEFAULT 0,
	scab_fan_volt  REAL    NOT NULL DEFAULT 0,
	scab_duration  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS hlr_sensor_data (
	datetime    INTEGER NOT NULL,
	sensor_id   INTEGER NOT NULL,
	co2         REAL,
	temperature REAL,
	humidity    REAL,
	mode        TEXT NOT NULL DEFAULT '',
	sensor_type TEXT NOT NULL DEFAULT '',
	cyclicName  TEXT NOT NULL DEFAULT ''
);
`

// Store wraps the sqlite connection. It is safe for concurrent use; the
// mutex only guards the handle swap during Reconnect.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path, switches it
// to WAL and bootstraps the schema.
func Open(path string) (*Store, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Printf("store: enable WAL: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return db, nil
}

func (s *Store) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Reconnect closes and reopens the database with exponential backoff. The
// cycle engine calls it after a persistence error and carries on either way.
func (s *Store) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(func() error {
		db, err := open(s.path)
		if err != nil {
			log.Printf("store: reconnect: %v", err)
			return err
		}
		s.db = db
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("reconnect %s: %w", s.path, err)
	}
	log.Printf("store: reconnected to %s", s.path)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// GetCycleState loads the single live cycle row. A missing row reads as an
// inactive, ended cycle rather than an error.
func (s *Store) GetCycleState(ctx context.Context) (model.CycleState, error) {
	var (
		st      model.CycleState
		isStart int
		phase   string
	)
	row := s.handle().QueryRowContext(ctx, `
		SELECT is_start, cyclicName, systemState, starttime, endtime, cyclic_loop_dur
		FROM state_hlr LIMIT 1`)
	err := row.Scan(&isStart, &st.CyclicName, &phase, &st.StartTimeMS, &st.EndTimeMS, &st.LoopRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CycleState{SystemState: model.PhaseEnd}, nil
	}
	if err != nil {
		return model.CycleState{}, fmt.Errorf("load cycle state: %w", err)
	}
	st.IsStart = isStart != 0
	st.SystemState = model.Phase(phase)
	return st, nil
}

// InitCycleState replaces the live cycle row wholesale. Operational tooling
// and tests use it to arm a cycle; the engine itself never calls it.
func (s *Store) InitCycleState(ctx context.Context, st model.CycleState) error {
	db := s.handle()
	if _, err := db.ExecContext(ctx, `DELETE FROM state_hlr`); err != nil {
		return fmt.Errorf("reset cycle state: %w", err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO state_hlr (is_start, cyclicName, systemState, starttime, endtime, cyclic_loop_dur)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.IsStart, st.CyclicName, string(st.SystemState), st.StartTimeMS, st.EndTimeMS, st.LoopRemaining)
	if err != nil {
		return fmt.Errorf("seed cycle state: %w", err)
	}
	return nil
}

// SetPhase persists a phase transition with its new timing window. The
// update carries no WHERE clause: state_hlr holds one logical row and the
// cycle engine is its only writer.
func (s *Store) SetPhase(ctx context.Context, startMS, endMS int64, phase model.Phase) error {
	_, err := s.handle().ExecContext(ctx, `
		UPDATE state_hlr SET starttime = ?, endtime = ?, systemState = ?`,
		startMS, endMS, string(phase))
	if err != nil {
		return fmt.Errorf("set phase %s: %w", phase, err)
	}
	return nil
}

// SetActive flips the cycle's is_start flag.
func (s *Store) SetActive(ctx context.Context, active bool) error {
	_, err := s.handle().ExecContext(ctx, `UPDATE state_hlr SET is_start = ?`, active)
	if err != nil {
		return fmt.Errorf("set active=%v: %w", active, err)
	}
	return nil
}

// SetPhaseAndLoop persists a phase transition together with the remaining
// loop count in one statement, so a failed write can never leave the counter
// spent while the phase stays put.
func (s *Store) SetPhaseAndLoop(ctx context.Context, startMS, endMS int64, phase model.Phase, loopRemaining int) error {
	_, err := s.handle().ExecContext(ctx, `
		UPDATE state_hlr SET starttime = ?, endtime = ?, systemState = ?, cyclic_loop_dur = ?`,
		startMS, endMS, string(phase), loopRemaining)
	if err != nil {
		return fmt.Errorf("set phase %s (loop %d): %w", phase, loopRemaining, err)
	}
	return nil
}

// GetSettingProfile looks up the duration/setpoint profile for a cyclic
// name. Absence is ErrProfileNotFound so callers can skip the tick.
func (s *Store) GetSettingProfile(ctx context.Context, cyclicName string) (model.SettingProfile, error) {
	var p model.SettingProfile
	row := s.handle().QueryRowContext(ctx, `
		SELECT cyclic_name, regen_fan_volt, regen_duration, cool_fan, cool_duration,
		       idle_duration, scab_fan_volt, scab_duration
		FROM setting_control WHERE cyclic_name = ? LIMIT 1`, cyclicName)
	err := row.Scan(&p.CyclicName, &p.RegenFanVolt, &p.RegenDuration, &p.CoolFanVolt,
		&p.CoolDuration, &p.IdleDuration, &p.ScabFanVolt, &p.ScabDuration)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SettingProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, cyclicName)
	}
	if err != nil {
		return model.SettingProfile{}, fmt.Errorf("load profile %s: %w", cyclicName, err)
	}
	return p, nil
}

// PutSettingProfile upserts a profile. Profiles are authored elsewhere;
// this exists for bootstrap and tests.
func (s *Store) PutSettingProfile(ctx context.Context, p model.SettingProfile) error {
	_, err := s.handle().ExecContext(ctx, `
		INSERT INTO setting_control
			(cyclic_name, regen_fan_volt, regen_duration, cool_fan, cool_duration,
			 idle_duration, scab_fan_volt, scab_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cyclic_name) DO UPDATE SET
			regen_fan_volt = excluded.regen_fan_volt,
			regen_duration = excluded.regen_duration,
			cool_fan       = excluded.cool_fan,
			cool_duration  = excluded.cool_duration,
			idle_duration  = excluded.idle_duration,
			scab_fan_volt  = excluded.scab_fan_volt,
			scab_duration  = excluded.scab_duration`,
		p.CyclicName, p.RegenFanVolt, p.RegenDuration, p.CoolFanVolt,
		p.CoolDuration, p.IdleDuration, p.ScabFanVolt, p.ScabDuration)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.CyclicName, err)
	}
	return nil
}

// AppendSensorData inserts one history row. Nil measurements land as NULL.
func (s *Store) AppendSensorData(ctx context.Context, r model.SensorRow) error {
	_, err := s.handle().ExecContext(ctx, `
		INSERT INTO hlr_sensor_data
			(datetime, sensor_id, co2, temperature, humidity, mode, sensor_type, cyclicName)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DatetimeMS, r.SensorID, r.CO2, r.Temperature, r.Humidity,
		r.Mode, r.SensorType, r.CyclicName)
	if err != nil {
		return fmt.Errorf("append sensor data (sensor %d): %w", r.SensorID, err)
	}
	return nil
}

// SensorDataCount reports the number of history rows for a sensor.
func (s *Store) SensorDataCount(ctx context.Context, sensorID int) (int, error) {
	var n int
	err := s.handle().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hlr_sensor_data WHERE sensor_id = ?`, sensorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sensor data (sensor %d): %w", sensorID, err)
	}
	return n, nil
}
