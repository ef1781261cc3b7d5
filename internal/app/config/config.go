package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Live       ports.Policy     `yaml:"live"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type DeviceConfig struct {
	// Hostname is the glasses address; discovery and pairing are assumed
	// done out of band. Empty means the hub starts without a device and
	// waits for a connect command.
	Hostname string `yaml:"hostname"`
	// DesiredGazeHz is the requested gaze sampling rate. The device may
	// negotiate it down to the highest offered rate.
	DesiredGazeHz  int           `yaml:"desired_gaze_hz"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RecordingsConfig struct {
	Dir string `yaml:"dir"`
	// Signals selects which archives get a CSV export unit.
	Signals []string `yaml:"signals"`
	// JournalDir stores the crash journal; empty disables journaling.
	JournalDir string `yaml:"journal_dir"`
}

type PostgresConfig struct {
	// ConnString, when set, mirrors finished recordings into Postgres.
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Device.DesiredGazeHz == 0 {
		c.Device.DesiredGazeHz = 100
	}
	if c.Device.ConnectTimeout == 0 {
		c.Device.ConnectTimeout = 10 * time.Second
	}
	if c.Live.LiveQueueCap == 0 {
		c.Live.LiveQueueCap = 2000
	}
	if c.Live.GazeDecimation == 0 {
		c.Live.GazeDecimation = 2
	}
	if c.Live.ImuDecimation == 0 {
		c.Live.ImuDecimation = 5
	}
	if c.Live.PollTimeout == 0 {
		c.Live.PollTimeout = time.Second
	}
	if c.Live.IdleSleep == 0 {
		c.Live.IdleSleep = time.Millisecond
	}
	if c.Live.SubmitTimeout == 0 {
		c.Live.SubmitTimeout = 30 * time.Second
	}
	if c.Recordings.Dir == "" {
		c.Recordings.Dir = "./data/recordings"
	}
	if len(c.Recordings.Signals) == 0 {
		c.Recordings.Signals = []string{"gaze", "imu"}
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = "samples"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":5002"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) Validate() error {
	if c.Live.LiveQueueCap < 1 {
		return fmt.Errorf("live.live_queue_cap must be positive")
	}
	if c.Live.GazeDecimation < 1 || c.Live.ImuDecimation < 1 {
		return fmt.Errorf("live decimation factors must be at least 1")
	}
	for _, sig := range c.Recordings.Signals {
		if !domain.Signal(sig).Valid() {
			return fmt.Errorf("recordings.signals: unknown signal %q", sig)
		}
	}
	if c.Recordings.Dir == "" {
		return fmt.Errorf("recordings.dir is required")
	}
	return nil
}

// ExportSignals returns the configured export coverage as signal values.
func (c *Config) ExportSignals() []domain.Signal {
	out := make([]domain.Signal, 0, len(c.Recordings.Signals))
	for _, sig := range c.Recordings.Signals {
		out = append(out, domain.Signal(sig))
	}
	return out
}
