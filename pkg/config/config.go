package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the vnad configuration
type Config struct {
	Instrument struct {
		Name string `yaml:"name"`
	} `yaml:"instrument"`

	Sweep struct {
		StartHz   float64 `yaml:"start_hz"`
		StopHz    float64 `yaml:"stop_hz"`
		Points    int     `yaml:"points"`
		MaxPoints int     `yaml:"max_points"`
	} `yaml:"sweep"`

	Hardware struct {
		UseMock         bool    `yaml:"use_mock"`
		SynthDevice     string  `yaml:"synth_device"`
		ReceiverDevice  string  `yaml:"receiver_device"`
		BaudRate        int     `yaml:"baud_rate"`
		SampleRate      int     `yaml:"sample_rate"`
		Decimation      int     `yaml:"decimation"`
		SamplesPerPoint int     `yaml:"samples_per_point"`
		IFFrequencyHz   float64 `yaml:"if_frequency_hz"`
		LockBudget      int     `yaml:"lock_budget"`
	} `yaml:"hardware"`

	Calibration struct {
		Autoload string `yaml:"autoload"`
	} `yaml:"calibration"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxSweeps    int    `yaml:"max_sweeps"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied, suitable for
// tests and for running without a config file.
func Default() *Config {
	var config Config
	config.applyDefaults()
	config.Hardware.UseMock = true
	return &config
}

func (c *Config) applyDefaults() {
	if c.Instrument.Name == "" {
		c.Instrument.Name = "vnad"
	}
	if c.Sweep.StartHz == 0 {
		c.Sweep.StartHz = 1e6
	}
	if c.Sweep.StopHz == 0 {
		c.Sweep.StopHz = 30e6
	}
	if c.Sweep.Points == 0 {
		c.Sweep.Points = 101
	}
	if c.Sweep.MaxPoints == 0 {
		c.Sweep.MaxPoints = 1001
	}
	if c.Hardware.BaudRate == 0 {
		c.Hardware.BaudRate = 115200
	}
	if c.Hardware.SampleRate == 0 {
		c.Hardware.SampleRate = 48000
	}
	if c.Hardware.Decimation == 0 {
		c.Hardware.Decimation = 1
	}
	if c.Hardware.SamplesPerPoint == 0 {
		c.Hardware.SamplesPerPoint = 256
	}
	if c.Hardware.IFFrequencyHz == 0 {
		c.Hardware.IFFrequencyHz = 6000
	}
	if c.Hardware.LockBudget == 0 {
		c.Hardware.LockBudget = 100
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/vnad.sock"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Storage.MaxSweeps == 0 {
		c.Storage.MaxSweeps = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sweep.StartHz < 0 {
		return fmt.Errorf("sweep start frequency must be non-negative")
	}
	if c.Sweep.StartHz > c.Sweep.StopHz {
		return fmt.Errorf("sweep start %.0f Hz above stop %.0f Hz", c.Sweep.StartHz, c.Sweep.StopHz)
	}
	if c.Sweep.Points < 1 || c.Sweep.Points > c.Sweep.MaxPoints {
		return fmt.Errorf("sweep points %d outside [1,%d]", c.Sweep.Points, c.Sweep.MaxPoints)
	}
	if !c.Hardware.UseMock {
		if c.Hardware.SynthDevice == "" {
			return fmt.Errorf("synth device is required when not using mock hardware")
		}
		if c.Hardware.ReceiverDevice == "" {
			return fmt.Errorf("receiver device is required when not using mock hardware")
		}
	}
	if c.Hardware.SamplesPerPoint < 2 {
		return fmt.Errorf("samples per point must be at least 2")
	}
	return nil
}

// SaveConfig writes the configuration back to a YAML file
func SaveConfig(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
