package tobiimvp

import (
	"github.com/lzukanovic/tobii-mvp/internal/app/config"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// DeviceConfig addresses the glasses and the desired gaze rate.
	DeviceConfig = config.DeviceConfig
	// Policy controls the live-view queue and decimation.
	Policy = ports.Policy
	// RecordingsConfig configures the CSV archive store.
	RecordingsConfig = config.RecordingsConfig
	// PostgresConfig configures the optional relational mirror.
	PostgresConfig = config.PostgresConfig
	// ServerConfig configures the gateway HTTP server.
	ServerConfig = config.ServerConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig

	// Signal identifies one device sample stream.
	Signal = domain.Signal
	// DeviceStatus is the connection snapshot pushed to clients.
	DeviceStatus = domain.DeviceStatus
	// Envelope is one decimated live-view message.
	Envelope = domain.Envelope
	// Recording bundles the archives of one finished session.
	Recording = domain.Recording
	// RecordingNotice announces a completed export.
	RecordingNotice = ports.RecordingNotice
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
