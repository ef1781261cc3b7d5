package domain

// Signal identifies one of the four independent telemetry channels exposed
// by the glasses' rudimentary streaming API.
type Signal string

const (
	SignalGaze  Signal = "gaze"
	SignalImu   Signal = "imu"
	SignalEvent Signal = "event"
	SignalSync  Signal = "sync"
)

// Signals lists all channels in subscription order.
var Signals = []Signal{SignalGaze, SignalImu, SignalEvent, SignalSync}

// Valid reports whether s names a known channel.
func (s Signal) Valid() bool {
	switch s {
	case SignalGaze, SignalImu, SignalEvent, SignalSync:
		return true
	}
	return false
}
