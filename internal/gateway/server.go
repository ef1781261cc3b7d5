// Package gateway is the interactive surface of the hub: a REST API for
// status and stored recordings, and a websocket feed carrying the decimated
// live view, status updates, and control commands.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lzukanovic/tobii-mvp/internal/acquisition"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/sink"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

const (
	// clientBuffer bounds each websocket client's send queue. A slow
	// client loses live messages rather than stalling the broadcaster.
	clientBuffer = 256

	writeTimeout = 5 * time.Second
)

// Controller is the slice of the acquisition service the gateway drives.
type Controller interface {
	Connect(ctx context.Context, hostname string, desiredHz int) error
	Disconnect(ctx context.Context) error
	StartStreaming(ctx context.Context, gazeDec, imuDec int) error
	StopStreaming(ctx context.Context) error
	Calibrate(ctx context.Context) (bool, error)
	UpdateDecimation(gaze, imu int)
	MarkEvent(ctx context.Context, tag string, payload any) error
	Status() domain.DeviceStatus
}

// Library lists and resolves stored recording files.
type Library interface {
	List() ([]sink.RecordingInfo, error)
	Path(filename string) (string, bool)
}

// event is one outbound websocket message.
type event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// command is one inbound websocket message.
type command struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

type Server struct {
	ctrl    Controller
	queue   ports.LiveQueue
	library Library
	obs     ports.Observability

	defaultHostname string
	defaultGazeHz   int
	idleSleep       time.Duration

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan event
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type Option func(*Server)

// WithDeviceDefaults sets the hostname and gaze rate used by a connect
// command that does not carry its own.
func WithDeviceDefaults(hostname string, gazeHz int) Option {
	return func(s *Server) {
		s.defaultHostname = hostname
		s.defaultGazeHz = gazeHz
	}
}

func WithIdleSleep(d time.Duration) Option {
	return func(s *Server) { s.idleSleep = d }
}

func New(ctrl Controller, queue ports.LiveQueue, library Library, obs ports.Observability, opts ...Option) *Server {
	s := &Server{
		ctrl:      ctrl,
		queue:     queue,
		library:   library,
		obs:       obs,
		idleSleep: time.Millisecond,
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetController wires the acquisition service in after construction. The
// gateway and the service reference each other (commands one way, status
// notifications the other), so one side has to be attached late. Must be
// called before the gateway serves requests.
func (s *Server) SetController(ctrl Controller) { s.ctrl = ctrl }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /api/recordings/{filename}", s.handleDownload)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Run serves HTTP until the context is cancelled. The live-view broadcaster
// runs for the same lifetime.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.obs.LogInfo("gateway_listening", ports.Field{Key: "addr", Value: addr})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	infos, err := s.library.List()
	if err != nil {
		s.obs.LogError("recordings_list_failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing failed"})
		return
	}
	if infos == nil {
		infos = []sink.RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	path, ok := s.library.Path(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "recording not found"})
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.Header().Set("Content-Type", "text/csv")
	http.ServeFile(w, r, path)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.obs.LogError("ws_upgrade_failed", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan event, clientBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	// Greet with the current status so the client renders immediately.
	c.send <- event{Event: "status_update", Data: s.ctrl.Status()}

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(c *client) {
	for {
		var cmd command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.dispatch(c, cmd)
	}
}

func (s *Server) dispatch(c *client, cmd command) {
	ctx := context.Background()

	fail := func(err error) {
		s.obs.LogError("command_failed", err, ports.Field{Key: "command", Value: cmd.Command})
		s.push(c, event{Event: "error", Data: map[string]string{
			"command": cmd.Command,
			"message": err.Error(),
		}})
	}

	switch cmd.Command {
	case "connect_device":
		var body struct {
			Hostname string `json:"hostname"`
			GazeHz   int    `json:"gaze_hz"`
		}
		_ = json.Unmarshal(cmd.Data, &body)
		if body.Hostname == "" {
			body.Hostname = s.defaultHostname
		}
		if body.GazeHz == 0 {
			body.GazeHz = s.defaultGazeHz
		}
		if err := s.ctrl.Connect(ctx, body.Hostname, body.GazeHz); err != nil {
			fail(err)
		}

	case "disconnect_device":
		if err := s.ctrl.Disconnect(ctx); err != nil {
			fail(err)
		}

	case "start_streaming":
		var body struct {
			GazeDecimation int `json:"gaze_decimation"`
			ImuDecimation  int `json:"imu_decimation"`
		}
		_ = json.Unmarshal(cmd.Data, &body)
		if err := s.ctrl.StartStreaming(ctx, body.GazeDecimation, body.ImuDecimation); err != nil {
			fail(err)
		}

	case "stop_streaming":
		if err := s.ctrl.StopStreaming(ctx); err != nil {
			fail(err)
		}

	case "update_decimation":
		var body struct {
			Gaze int `json:"gaze"`
			Imu  int `json:"imu"`
		}
		_ = json.Unmarshal(cmd.Data, &body)
		s.ctrl.UpdateDecimation(body.Gaze, body.Imu)

	case "run_calibration":
		ok, err := s.ctrl.Calibrate(ctx)
		if err != nil {
			fail(err)
			return
		}
		s.broadcast(event{Event: "calibration_result", Data: map[string]bool{"success": ok}})

	case "mark_event":
		var body struct {
			Tag     string         `json:"tag"`
			Payload map[string]any `json:"payload"`
		}
		_ = json.Unmarshal(cmd.Data, &body)
		if body.Tag == "" {
			fail(errors.New("mark_event: tag is required"))
			return
		}
		if err := s.ctrl.MarkEvent(ctx, body.Tag, body.Payload); err != nil {
			fail(err)
		}

	default:
		fail(errors.New("unknown command " + cmd.Command))
	}
}

// broadcastLoop drains the live queue into every connected client. The
// queue is non-blocking on both ends, so an empty poll backs off by the
// idle sleep instead of spinning.
func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ok := s.queue.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.idleSleep):
			}
			continue
		}
		s.broadcast(event{Event: "new_data", Data: env})
	}
}

// push queues an event for one client, dropping it when the client is slow.
func (s *Server) push(c *client, ev event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (s *Server) broadcast(ev event) {
	s.mu.Lock()
	for c := range s.clients {
		s.push(c, ev)
	}
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()
}

// StatusChanged implements the notifier port: every state transition is
// pushed to all connected clients.
func (s *Server) StatusChanged(status domain.DeviceStatus) {
	s.broadcast(event{Event: "status_update", Data: status})
}

// RecordingSaved announces a completed export.
func (s *Server) RecordingSaved(notice ports.RecordingNotice) {
	s.broadcast(event{Event: "new_recording", Data: notice})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var (
	_ ports.Notifier = (*Server)(nil)
	_ Controller     = (*acquisition.Service)(nil)
	_ Library        = (*sink.CSVExporter)(nil)
)
