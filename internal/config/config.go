// Package config loads the controller's YAML configuration. Durations are
// integer milliseconds in the file and converted at wiring time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RootConfig mirrors config/config.yaml.
type RootConfig struct {
	System   SystemConfig   `yaml:"system"`
	Bus      BusConfig      `yaml:"bus"`
	Poller   PollerConfig   `yaml:"poller"`
	Sensors  []SensorConfig `yaml:"sensors"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

type SystemConfig struct {
	DBPath            string `yaml:"db_path"`
	ActuatorURL       string `yaml:"actuator_url"`
	ActuatorTimeoutMs int    `yaml:"actuator_timeout_ms"`
}

type BusConfig struct {
	// Minimum silence between transactions on one RS-485 port.
	PreDelayMs int `yaml:"pre_delay_ms"`
}

type PollerConfig struct {
	IntervalMs    int `yaml:"interval_ms"`
	JitterMinMs   int `yaml:"jitter_min_ms"`
	JitterMaxMs   int `yaml:"jitter_max_ms"`
	QueueSize     int `yaml:"queue_size"`
	StopTimeoutMs int `yaml:"stop_timeout_ms"`
}

type SensorConfig struct {
	Address    uint8  `yaml:"address"`
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	VOC        bool   `yaml:"voc"`
	SensorType string `yaml:"sensor_type"` // history tag; default tongdy
}

type WatchdogConfig struct {
	CheckEveryMs  int `yaml:"check_every_ms"`
	StallAfterMs  int `yaml:"stall_after_ms"`
	JoinTimeoutMs int `yaml:"join_timeout_ms"`
}

// Load reads the YAML file, applies defaults and validates.
func Load(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	var cfg RootConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}

	// Defaults
	if cfg.System.DBPath == "" {
		cfg.System.DBPath = "hlr_db.db"
	}
	if cfg.System.ActuatorTimeoutMs <= 0 {
		cfg.System.ActuatorTimeoutMs = 3000
	}
	if cfg.Bus.PreDelayMs <= 0 {
		cfg.Bus.PreDelayMs = 30
	}
	if cfg.Poller.IntervalMs <= 0 {
		cfg.Poller.IntervalMs = 60_000
	}
	for i := range cfg.Sensors {
		if cfg.Sensors[i].Port == "" {
			cfg.Sensors[i].Port = "/dev/ttyUSB0"
		}
		if cfg.Sensors[i].BaudRate <= 0 {
			cfg.Sensors[i].BaudRate = 19200
		}
		if cfg.Sensors[i].TimeoutMs <= 0 {
			cfg.Sensors[i].TimeoutMs = 1500
		}
	}

	// Basic validation
	if cfg.System.ActuatorURL == "" {
		return RootConfig{}, fmt.Errorf("actuator_url is required")
	}
	if len(cfg.Sensors) == 0 {
		return RootConfig{}, fmt.Errorf("no sensors configured")
	}
	seen := make(map[uint8]bool, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if seen[s.Address] {
			return RootConfig{}, fmt.Errorf("duplicate sensor address %d", s.Address)
		}
		seen[s.Address] = true
	}
	return cfg, nil
}

// Millis converts a millisecond count from the file into a Duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// SensorTypes maps sensor address to its non-default history tag.
func (c RootConfig) SensorTypes() map[int]string {
	out := make(map[int]string)
	for _, s := range c.Sensors {
		if s.SensorType != "" {
			out[int(s.Address)] = s.SensorType
		}
	}
	return out
}
