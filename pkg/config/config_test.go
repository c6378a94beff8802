package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "vnad-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configYAML := `
instrument:
  name: bench-vna
sweep:
  start_hz: 1000000
  stop_hz: 10000000
  points: 201
hardware:
  use_mock: true
  samples_per_point: 128
web:
  port: 9090
logging:
  level: debug
`
	path := filepath.Join(tempDir, "vnad.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Instrument.Name != "bench-vna" {
		t.Errorf("expected instrument name bench-vna, got %s", cfg.Instrument.Name)
	}
	if cfg.Sweep.Points != 201 {
		t.Errorf("expected 201 points, got %d", cfg.Sweep.Points)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}

	t.Run("Defaults Applied", func(t *testing.T) {
		if cfg.Sweep.MaxPoints != 1001 {
			t.Errorf("expected default max points 1001, got %d", cfg.Sweep.MaxPoints)
		}
		if cfg.Hardware.SampleRate != 48000 {
			t.Errorf("expected default sample rate, got %d", cfg.Hardware.SampleRate)
		}
		if cfg.API.UnixSocket == "" {
			t.Error("expected default unix socket path")
		}
		if cfg.Logging.MaxSize != 10 {
			t.Errorf("expected default log max size, got %d", cfg.Logging.MaxSize)
		}
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/vnad.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Run("Valid Defaults", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Errorf("default config must validate, got %v", err)
		}
	})

	t.Run("Start Above Stop", func(t *testing.T) {
		cfg := Default()
		cfg.Sweep.StartHz = 10e6
		cfg.Sweep.StopHz = 1e6
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("Points Out Of Range", func(t *testing.T) {
		cfg := Default()
		cfg.Sweep.Points = cfg.Sweep.MaxPoints + 1
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("Serial Without Devices", func(t *testing.T) {
		cfg := Default()
		cfg.Hardware.UseMock = false
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error without serial devices")
		}
	})
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "vnad-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	cfg := Default()
	cfg.Sweep.Points = 51
	path := filepath.Join(tempDir, "out.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Sweep.Points != 51 {
		t.Errorf("expected 51 points after round trip, got %d", loaded.Sweep.Points)
	}
}
