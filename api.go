package tobiimvp

import (
	base "github.com/lzukanovic/tobii-mvp/pkg/tobiimvp"
)

// Re-exported errors for convenience.
var (
	ErrAlreadyConnected = base.ErrAlreadyConnected
	ErrNotConnected     = base.ErrNotConnected
	ErrAlreadyStreaming = base.ErrAlreadyStreaming
	ErrNotStreaming     = base.ErrNotStreaming
)

// Type aliases so consumers can import github.com/lzukanovic/tobii-mvp directly.
type (
	Config           = base.Config
	DeviceConfig     = base.DeviceConfig
	Policy           = base.Policy
	RecordingsConfig = base.RecordingsConfig
	PostgresConfig   = base.PostgresConfig
	ServerConfig     = base.ServerConfig
	MetricsConfig    = base.MetricsConfig
	Signal           = base.Signal
	DeviceStatus     = base.DeviceStatus
	Envelope         = base.Envelope
	Recording        = base.Recording
	RecordingNotice  = base.RecordingNotice
	Hub              = base.Hub
	HubOption        = base.HubOption
	ProtocolError    = base.ProtocolError
	Dialer           = base.Dialer
	Session          = base.Session
	Subscription     = base.Subscription
	LiveQueue        = base.LiveQueue
	Exporter         = base.Exporter
	Notifier         = base.Notifier
	Observability    = base.Observability
	Field            = base.Field
	RecordingFunc    = base.RecordingFunc
	RecordingInfo    = base.RecordingInfo
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Hub builders.
func Conf(path string, opts ...HubOption) (*Hub, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...HubOption) (*Hub, error) {
	return base.ConfFromConfig(cfg, opts...)
}

// Hub options.
func WithDialer(d base.Dialer) HubOption {
	return base.WithDialer(d)
}

func WithLiveQueue(q base.LiveQueue) HubOption {
	return base.WithLiveQueue(q)
}

func WithExporter(e base.Exporter) HubOption {
	return base.WithExporter(e)
}

func WithNotifier(n base.Notifier) HubOption {
	return base.WithNotifier(n)
}

func WithObservability(obs base.Observability) HubOption {
	return base.WithObservability(obs)
}

func WithoutServers() HubOption {
	return base.WithoutServers()
}

// Exporter adapters.
func NewCallbackExporter(name string, fn base.RecordingFunc) base.Exporter {
	return base.NewCallbackExporter(name, fn)
}

func NewMultiExporter(exporters ...base.Exporter) base.Exporter {
	return base.NewMultiExporter(exporters...)
}
