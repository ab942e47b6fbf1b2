package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
system:
  actuator_url: http://10.0.0.5
poller:
  interval_ms: 30000
sensors:
  - address: 2
    voc: true
  - address: 51
    sensor_type: type_k
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.System.DBPath != "hlr_db.db" {
		t.Fatalf("expected default db path, got %q", cfg.System.DBPath)
	}
	if cfg.System.ActuatorTimeoutMs != 3000 {
		t.Fatalf("expected default actuator timeout, got %d", cfg.System.ActuatorTimeoutMs)
	}
	if cfg.Bus.PreDelayMs != 30 {
		t.Fatalf("expected default pre delay, got %d", cfg.Bus.PreDelayMs)
	}
	if cfg.Poller.IntervalMs != 30000 {
		t.Fatalf("expected configured interval, got %d", cfg.Poller.IntervalMs)
	}
	for _, s := range cfg.Sensors {
		if s.Port != "/dev/ttyUSB0" || s.BaudRate != 19200 || s.TimeoutMs != 1500 {
			t.Fatalf("sensor defaults not applied: %+v", s)
		}
	}
}

func TestSensorTypes(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	types := cfg.SensorTypes()
	if types[51] != "type_k" {
		t.Fatalf("expected type_k for sensor 51, got %q", types[51])
	}
	if _, ok := types[2]; ok {
		t.Fatal("default-typed sensor should not appear in the override map")
	}
}

func TestLoadRejectsMissingActuatorURL(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `
sensors:
  - address: 2
`))
	if err == nil {
		t.Fatal("expected error for missing actuator_url")
	}
}

func TestLoadRejectsNoSensors(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `
system:
  actuator_url: http://10.0.0.5
`))
	if err == nil {
		t.Fatal("expected error for empty sensor list")
	}
}

func TestLoadRejectsDuplicateAddresses(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, `
system:
  actuator_url: http://10.0.0.5
sensors:
  - address: 2
  - address: 2
`))
	if err == nil {
		t.Fatal("expected error for duplicate sensor address")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
