// Package devicesim provides an in-memory stand-in for a Glasses 3 head
// unit. It implements the device port with scriptable identity, battery and
// frequency answers, and lets tests and examples push raw samples into the
// native streams by hand.
package devicesim

import (
	"context"
	"fmt"
	"sync"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

const streamBuffer = 256

// Sim is both the dialer and the session: Dial hands out the receiver so a
// test can keep pushing samples through the same handle it configured.
type Sim struct {
	mu sync.Mutex

	Serial      string
	Firmware    string
	Battery     float64
	Charging    bool
	Frequencies []int

	// CalibrateResult and CalibrateErr script the next Calibrate call.
	CalibrateResult bool
	CalibrateErr    error

	// DialErr, when set, makes Dial fail.
	DialErr error
	// CloseErr is returned from Close after the session is torn down.
	CloseErr error
	// SubscribeErr fails Subscribe for the named signal.
	SubscribeErr map[domain.Signal]error

	gazeHz    int
	streaming bool
	keepAlive int
	closed    bool

	streams map[domain.Signal]chan domain.RawSample
	events  []SentEvent

	// StartStreamsCalls and friends count protocol calls for assertions.
	StartStreamsCalls int
	StopStreamsCalls  int
	KeepAliveCalls    int
}

// SentEvent is one annotation injected via SendEvent.
type SentEvent struct {
	Tag     string
	Payload any
}

// New returns a simulator with a plausible default head unit.
func New() *Sim {
	return &Sim{
		Serial:      "TG03B-SIM",
		Firmware:    "1.33+sim",
		Battery:     0.8,
		Frequencies: []int{50, 100},
		streams:     make(map[domain.Signal]chan domain.RawSample),
	}
}

func (s *Sim) Dial(ctx context.Context, hostname string) (ports.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	s.closed = false
	return s, nil
}

func (s *Sim) Identity(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Serial, s.Firmware, nil
}

func (s *Sim) BatteryLevel(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Battery, nil
}

func (s *Sim) BatteryCharging(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Charging, nil
}

func (s *Sim) GazeFrequencies(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.Frequencies))
	copy(out, s.Frequencies)
	return out, nil
}

func (s *Sim) SetGazeFrequency(ctx context.Context, hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, offered := range s.Frequencies {
		if offered == hz {
			s.gazeHz = hz
			return nil
		}
	}
	return fmt.Errorf("frequency %d not offered", hz)
}

// GazeFrequency reports the last accepted SetGazeFrequency value.
func (s *Sim) GazeFrequency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gazeHz
}

func (s *Sim) Subscribe(ctx context.Context, sig domain.Signal) (ports.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.SubscribeErr[sig]; err != nil {
		return ports.Subscription{}, err
	}
	ch := make(chan domain.RawSample, streamBuffer)
	s.streams[sig] = ch
	return ports.Subscription{
		C: ch,
		Unsubscribe: func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if cur, ok := s.streams[sig]; ok && cur == ch {
				delete(s.streams, sig)
				close(ch)
			}
			return nil
		},
	}, nil
}

func (s *Sim) StartStreams(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartStreamsCalls++
	s.streaming = true
	return nil
}

func (s *Sim) StopStreams(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopStreamsCalls++
	s.streaming = false
	return nil
}

func (s *Sim) Calibrate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CalibrateResult, s.CalibrateErr
}

func (s *Sim) KeepAlive(ctx context.Context) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.KeepAliveCalls++
	s.keepAlive++
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.keepAlive--
		})
	}, nil
}

// KeepAliveHeld reports how many keep-alive scopes are currently open.
func (s *Sim) KeepAliveHeld() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlive
}

func (s *Sim) SendEvent(ctx context.Context, tag string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, SentEvent{Tag: tag, Payload: payload})
	return nil
}

// SentEvents returns the annotations injected so far.
func (s *Sim) SentEvents() []SentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Sim) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for sig, ch := range s.streams {
		close(ch)
		delete(s.streams, sig)
	}
	return s.CloseErr
}

// Streaming reports whether StartStreams is in effect.
func (s *Sim) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Closed reports whether the session was shut down.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers one raw sample on the named stream. It returns false when no
// subscription is open or the stream buffer is full.
func (s *Sim) Push(sig domain.Signal, raw domain.RawSample) bool {
	s.mu.Lock()
	ch, ok := s.streams[sig]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- raw:
		return true
	default:
		return false
	}
}

// PushGaze is a convenience for the common pair-shaped gaze sample.
func (s *Sim) PushGaze(ts float64, fields map[string]any) bool {
	return s.Push(domain.SignalGaze, []any{ts, fields})
}

// PushImu is a convenience for the pair-shaped IMU sample.
func (s *Sim) PushImu(ts float64, fields map[string]any) bool {
	return s.Push(domain.SignalImu, []any{ts, fields})
}

var (
	_ ports.Dialer  = (*Sim)(nil)
	_ ports.Session = (*Sim)(nil)
)
