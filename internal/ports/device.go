package ports

import (
	"context"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
)

// Dialer opens a session against a reachable pair of glasses. Pairing and
// discovery are out of scope; the hostname is assumed resolvable.
type Dialer interface {
	Dial(ctx context.Context, hostname string) (Session, error)
}

// Subscription is one device-native sample stream. The channel is owned by
// the session and is closed when the session goes away; Unsubscribe releases
// the device-side subscription.
type Subscription struct {
	C           <-chan domain.RawSample
	Unsubscribe func(ctx context.Context) error
}

// Session is the single owned handle to the device link. Implementations are
// not required to be safe for concurrent calls: the async execution bridge
// guarantees at most one protocol call is in flight at a time.
type Session interface {
	// Identity returns the head-unit serial and firmware version.
	Identity(ctx context.Context) (serial, firmware string, err error)

	// BatteryLevel returns the charge level in [0,1].
	BatteryLevel(ctx context.Context) (float64, error)
	BatteryCharging(ctx context.Context) (bool, error)

	// GazeFrequencies lists the sampling rates the firmware offers, in Hz.
	GazeFrequencies(ctx context.Context) ([]int, error)
	SetGazeFrequency(ctx context.Context, hz int) error

	// Subscribe opens the native stream for one signal kind.
	Subscribe(ctx context.Context, sig domain.Signal) (Subscription, error)

	StartStreams(ctx context.Context) error
	StopStreams(ctx context.Context) error

	// Calibrate runs the device calibration procedure. The returned bool is
	// the calibration verdict; an error means the call itself failed.
	Calibrate(ctx context.Context) (bool, error)

	// KeepAlive opens a scoped keep-alive on the rudimentary API and returns
	// its release func. Callers must release on every exit path.
	KeepAlive(ctx context.Context) (release func(), err error)

	// SendEvent injects an annotation into the device's event stream.
	SendEvent(ctx context.Context, tag string, payload any) error

	Close(ctx context.Context) error
}
