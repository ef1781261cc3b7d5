// Package g3 speaks the Glasses 3 web API: a single websocket carrying
// JSON request/response pairs correlated by id, plus signal notifications
// for the subscribed sample streams.
package g3

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

const (
	wsPath      = "/websocket"
	subprotocol = "g3api"

	// Device API paths. Properties are addressed with ".name", actions
	// with "!name", signals with ":name".
	pathSerial        = "/system.recording-unit-serial"
	pathFirmware      = "/system.version"
	pathBatteryLevel  = "/system/battery.level"
	pathBatteryState  = "/system/battery.charging"
	pathFreqOptions   = "/settings.available-gaze-frequencies"
	pathGazeFrequency = "/settings.gaze-frequency"
	pathStartStreams  = "/rudimentary!start-streams"
	pathStopStreams   = "/rudimentary!stop-streams"
	pathCalibrate     = "/rudimentary!calibrate"
	pathKeepAlive     = "/rudimentary!keepalive"
	pathSendEvent     = "/rudimentary!send-event"

	// streamBuffer bounds each native stream channel. A receiver that
	// falls behind sheds samples here rather than stalling the read loop.
	streamBuffer = 512

	defaultHandshakeTimeout  = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultKeepAliveInterval = 5 * time.Second
)

type Dialer struct {
	obs               ports.Observability
	handshakeTimeout  time.Duration
	keepAliveInterval time.Duration
}

type Option func(*Dialer)

func WithHandshakeTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.handshakeTimeout = d }
}

func WithKeepAliveInterval(d time.Duration) Option {
	return func(dl *Dialer) { dl.keepAliveInterval = d }
}

func NewDialer(obs ports.Observability, opts ...Option) *Dialer {
	d := &Dialer{
		obs:               obs,
		handshakeTimeout:  defaultHandshakeTimeout,
		keepAliveInterval: defaultKeepAliveInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Dial(ctx context.Context, hostname string) (ports.Session, error) {
	u := url.URL{Scheme: "ws", Host: hostname, Path: wsPath}
	wd := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}
	conn, resp, err := wd.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &session{
		conn:              conn,
		obs:               d.obs,
		keepAliveInterval: d.keepAliveInterval,
		pending:           make(map[int]chan response),
		streams:           make(map[int]chan domain.RawSample),
		sigPaths:          make(map[int]string),
		closed:            make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type request struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Method string `json:"method"`
	Body   any    `json:"body"`
}

type response struct {
	ID     *int            `json:"id"`
	Body   json.RawMessage `json:"body"`
	Error  *int            `json:"error"`
	Info   string          `json:"error_info"`
	Signal *int            `json:"signal"`
}

type session struct {
	conn *websocket.Conn
	obs  ports.Observability

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int
	pending  map[int]chan response
	streams  map[int]chan domain.RawSample
	sigPaths map[int]string

	keepAliveInterval time.Duration
	keepAliveRefs     int
	keepAliveStop     chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// readLoop is the single reader. It correlates responses by id and fans
// signal notifications out to their stream channels; a full stream drops
// the sample instead of blocking the loop.
func (s *session) readLoop() {
	defer s.teardown()
	for {
		var resp response
		if err := s.conn.ReadJSON(&resp); err != nil {
			select {
			case <-s.closed:
			default:
				s.obs.LogError("g3_read_failed", err)
			}
			return
		}

		switch {
		case resp.Signal != nil:
			var raw domain.RawSample
			if err := json.Unmarshal(resp.Body, &raw); err != nil {
				s.obs.LogError("g3_signal_decode_failed", err)
				continue
			}
			s.mu.Lock()
			ch, ok := s.streams[*resp.Signal]
			sig := s.sigPaths[*resp.Signal]
			s.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case ch <- raw:
			default:
				s.obs.LogError("g3_stream_overrun", fmt.Errorf("stream %s buffer full, sample dropped", sig), ports.Field{Key: "signal", Value: sig})
			}

		case resp.ID != nil:
			s.mu.Lock()
			ch, ok := s.pending[*resp.ID]
			if ok {
				delete(s.pending, *resp.ID)
			}
			s.mu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}

func (s *session) teardown() {
	s.mu.Lock()
	for id, ch := range s.pending {
		delete(s.pending, id)
		close(ch)
	}
	for id, ch := range s.streams {
		delete(s.streams, id)
		close(ch)
	}
	s.mu.Unlock()
}

// call issues one request and waits for its correlated response.
func (s *session) call(ctx context.Context, method, path string, body any, out any) error {
	select {
	case <-s.closed:
		return fmt.Errorf("g3: session closed")
	default:
	}

	ch := make(chan response, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = ch
	s.mu.Unlock()

	req := request{ID: id, Path: path, Method: method, Body: body}
	s.writeMu.Lock()
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return fmt.Errorf("g3: write %s: %w", path, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return ctx.Err()
	case <-s.closed:
		return fmt.Errorf("g3: session closed")
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("g3: connection lost")
		}
		if resp.Error != nil {
			return fmt.Errorf("g3: %s: device error %d %s", path, *resp.Error, resp.Info)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Body, out); err != nil {
				return fmt.Errorf("g3: decode %s response: %w", path, err)
			}
		}
		return nil
	}
}

func (s *session) get(ctx context.Context, path string, out any) error {
	return s.call(ctx, "GET", path, nil, out)
}

func (s *session) post(ctx context.Context, path string, body, out any) error {
	if body == nil {
		body = []any{}
	}
	return s.call(ctx, "POST", path, body, out)
}

func (s *session) Identity(ctx context.Context) (string, string, error) {
	var serial, firmware string
	if err := s.get(ctx, pathSerial, &serial); err != nil {
		return "", "", err
	}
	if err := s.get(ctx, pathFirmware, &firmware); err != nil {
		return "", "", err
	}
	return serial, firmware, nil
}

func (s *session) BatteryLevel(ctx context.Context) (float64, error) {
	var level float64
	err := s.get(ctx, pathBatteryLevel, &level)
	return level, err
}

func (s *session) BatteryCharging(ctx context.Context) (bool, error) {
	var charging bool
	err := s.get(ctx, pathBatteryState, &charging)
	return charging, err
}

func (s *session) GazeFrequencies(ctx context.Context) ([]int, error) {
	var offered []int
	err := s.get(ctx, pathFreqOptions, &offered)
	return offered, err
}

func (s *session) SetGazeFrequency(ctx context.Context, hz int) error {
	return s.post(ctx, pathGazeFrequency, []any{hz}, nil)
}

func (s *session) Subscribe(ctx context.Context, sig domain.Signal) (ports.Subscription, error) {
	path := "/rudimentary:" + string(sig)
	var subID int
	if err := s.post(ctx, path, nil, &subID); err != nil {
		return ports.Subscription{}, err
	}

	ch := make(chan domain.RawSample, streamBuffer)
	s.mu.Lock()
	s.streams[subID] = ch
	s.sigPaths[subID] = string(sig)
	s.mu.Unlock()

	return ports.Subscription{
		C: ch,
		Unsubscribe: func(ctx context.Context) error {
			err := s.call(ctx, "DELETE", path, subID, nil)
			s.mu.Lock()
			if cur, ok := s.streams[subID]; ok && cur == ch {
				delete(s.streams, subID)
				delete(s.sigPaths, subID)
				close(cur)
			}
			s.mu.Unlock()
			return err
		},
	}, nil
}

func (s *session) StartStreams(ctx context.Context) error {
	return s.post(ctx, pathStartStreams, nil, nil)
}

func (s *session) StopStreams(ctx context.Context) error {
	return s.post(ctx, pathStopStreams, nil, nil)
}

func (s *session) Calibrate(ctx context.Context) (bool, error) {
	var ok bool
	err := s.post(ctx, pathCalibrate, nil, &ok)
	return ok, err
}

// KeepAlive refcounts a background pinger on the rudimentary API. The
// firmware silences the rudimentary streams a few seconds after the last
// keepalive, so the pinger runs for as long as any scope is open.
func (s *session) KeepAlive(ctx context.Context) (func(), error) {
	if err := s.post(ctx, pathKeepAlive, nil, nil); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keepAliveRefs++
	if s.keepAliveRefs == 1 {
		stop := make(chan struct{})
		s.keepAliveStop = stop
		go s.keepAliveLoop(stop)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.keepAliveRefs--
			if s.keepAliveRefs == 0 && s.keepAliveStop != nil {
				close(s.keepAliveStop)
				s.keepAliveStop = nil
			}
			s.mu.Unlock()
		})
	}, nil
}

func (s *session) keepAliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
			if err := s.post(ctx, pathKeepAlive, nil, nil); err != nil {
				s.obs.LogError("g3_keepalive_failed", err)
			}
			cancel()
		}
	}
}

func (s *session) SendEvent(ctx context.Context, tag string, payload any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return s.post(ctx, pathSendEvent, []any{tag, payload}, nil)
}

func (s *session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.keepAliveStop != nil {
			close(s.keepAliveStop)
			s.keepAliveStop = nil
			s.keepAliveRefs = 0
		}
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

var (
	_ ports.Dialer  = (*Dialer)(nil)
	_ ports.Session = (*session)(nil)
)
