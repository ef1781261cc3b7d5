package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/adapters/devicesim"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/queue"
	"github.com/lzukanovic/tobii-mvp/internal/bridge"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

type stubObs struct{}

func (stubObs) LogInfo(string, ...ports.Field)            {}
func (stubObs) LogError(string, error, ...ports.Field)    {}
func (stubObs) LogCritical(string, error, ...ports.Field) {}
func (stubObs) IncCounter(string, float64)                {}
func (stubObs) SetGauge(string, float64)                  {}
func (stubObs) ObserveLatency(string, float64)            {}
func (stubObs) RecordMalformed(domain.Signal, error)      {}

type captureExporter struct {
	mu       sync.Mutex
	exported []*domain.Recording
	err      error
}

func (c *captureExporter) Export(rec *domain.Recording) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.exported = append(c.exported, rec)
	return []string{"tobii_gaze_test.csv"}, nil
}

func (c *captureExporter) Name() string { return "capture" }

func (c *captureExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exported)
}

type captureNotifier struct {
	mu       sync.Mutex
	statuses []domain.DeviceStatus
	notices  []ports.RecordingNotice
}

func (c *captureNotifier) StatusChanged(st domain.DeviceStatus) {
	c.mu.Lock()
	c.statuses = append(c.statuses, st)
	c.mu.Unlock()
}

func (c *captureNotifier) RecordingSaved(n ports.RecordingNotice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()
}

type fixture struct {
	sim      *devicesim.Sim
	svc      *Service
	queue    *queue.LiveQueue
	exporter *captureExporter
	notifier *captureNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	br := bridge.New(stubObs{})
	br.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = br.Shutdown(ctx)
	})

	f := &fixture{
		sim:      devicesim.New(),
		queue:    queue.NewLiveQueue(64),
		exporter: &captureExporter{},
		notifier: &captureNotifier{},
	}
	pol := ports.Policy{
		GazeDecimation: 2,
		ImuDecimation:  5,
		PollTimeout:    20 * time.Millisecond,
		SubmitTimeout:  2 * time.Second,
	}
	opts = append([]Option{WithExporter(f.exporter), WithNotifier(f.notifier)}, opts...)
	f.svc = New(f.sim, br, f.queue, stubObs{}, pol, opts...)
	return f
}

func (f *fixture) connect(t *testing.T, desiredHz int) {
	t.Helper()
	if err := f.svc.Connect(context.Background(), "tg03b.local", desiredHz); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held")
}

func TestConnectNegotiatesDesiredFrequency(t *testing.T) {
	f := newFixture(t)
	f.sim.Frequencies = []int{50, 90, 150}

	f.connect(t, 90)

	st := f.svc.Status()
	if !st.Connected || st.GazeFreq != 90 || st.RateDegraded {
		t.Fatalf("unexpected status after connect: %+v", st)
	}
	if f.sim.GazeFrequency() != 90 {
		t.Fatalf("device frequency not set: %d", f.sim.GazeFrequency())
	}
	if st.Serial != "TG03B-SIM" || st.Firmware != "1.33+sim" {
		t.Fatalf("identity not captured: %+v", st)
	}
	if st.Battery != 80 {
		t.Fatalf("battery should be reported in percent, got %v", st.Battery)
	}
}

func TestConnectFallsBackToMaxFrequency(t *testing.T) {
	f := newFixture(t)
	f.sim.Frequencies = []int{50, 100}

	f.connect(t, 150)

	st := f.svc.Status()
	if st.GazeFreq != 100 || !st.RateDegraded {
		t.Fatalf("expected degraded fallback to 100 Hz, got %+v", st)
	}
}

func TestConnectTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.Connect(context.Background(), "tg03b.local", 100); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectDialFailureSetsStatusError(t *testing.T) {
	f := newFixture(t)
	f.sim.DialErr = errors.New("no route to host")

	err := f.svc.Connect(context.Background(), "tg03b.local", 100)
	if err == nil {
		t.Fatalf("expected dial error")
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Op != "dial" {
		t.Fatalf("expected dial protocol error, got %v", err)
	}
	st := f.svc.Status()
	if st.Connected || st.Error == "" {
		t.Fatalf("status should record the failure: %+v", st)
	}
}

func TestStreamingArchivesAllAndDecimatesLiveView(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)

	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !f.sim.Streaming() {
		t.Fatalf("device streams not started")
	}

	for i := 0; i < 10; i++ {
		if !f.sim.PushGaze(float64(i)*0.01, map[string]any{"gaze2d": []any{0.5, 0.5}}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 10 })

	// Decimation factor 2: every second sample reaches the live view.
	waitFor(t, func() bool { return f.queue.Len() == 5 })
	env, ok := f.queue.TryDequeue()
	if !ok || env.Type != domain.SignalGaze {
		t.Fatalf("unexpected live envelope: %+v %v", env, ok)
	}

	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if f.exporter.count() != 1 {
		t.Fatalf("expected one export, got %d", f.exporter.count())
	}
	rec := f.exporter.exported[0]
	if len(rec.Gaze) != 10 {
		t.Fatalf("archive must be lossless, got %d samples", len(rec.Gaze))
	}
	if rec.ID == "" {
		t.Fatalf("recording ID missing")
	}
}

func TestMalformedSampleSkippedReceiverContinues(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A gaze2d that is not an array fails record mapping; the sample is
	// dropped without ending the receiver loop.
	f.sim.PushGaze(0.01, map[string]any{"gaze2d": "garbage"})
	f.sim.PushGaze(0.02, map[string]any{"gaze2d": []any{0.3, 0.7}})
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 1 })

	f.sim.PushGaze(0.03, map[string]any{"gaze2d": []any{0.4, 0.8}})
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 2 })

	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec := f.exporter.exported[0]
	if len(rec.Gaze) != 2 {
		t.Fatalf("expected the two well-formed samples archived, got %d", len(rec.Gaze))
	}
}

func TestStartStreamingWhileActiveKeepsArchives(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.sim.PushGaze(0.01, map[string]any{"gaze2d": []any{0.1, 0.2}})
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 1 })

	if err := f.svc.StartStreaming(context.Background(), 0, 0); !errors.Is(err, ErrAlreadyStreaming) {
		t.Fatalf("expected ErrAlreadyStreaming, got %v", err)
	}
	if got := f.svc.Status().GazeSamples; got != 1 {
		t.Fatalf("rejected start must not touch archives, got %d samples", got)
	}
}

func TestStartStreamingRollsBackOnSubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.sim.SubscribeErr = map[domain.Signal]error{domain.SignalImu: errors.New("subscription refused")}
	f.connect(t, 100)

	err := f.svc.StartStreaming(context.Background(), 0, 0)
	if err == nil {
		t.Fatalf("expected subscribe failure")
	}
	if f.svc.Streaming() {
		t.Fatalf("streaming flag must be rolled back")
	}
	// The gaze subscription opened before the failure must be released:
	// a later push finds no open stream.
	if f.sim.PushGaze(0.01, map[string]any{"gaze2d": []any{0.1, 0.2}}) {
		t.Fatalf("gaze subscription was not rolled back")
	}
	if st := f.svc.Status(); st.Streaming {
		t.Fatalf("status must not show streaming: %+v", st)
	}
}

func TestStopStreamingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sim.PushGaze(0.01, map[string]any{"gaze2d": []any{0.1, 0.2}})
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 1 })

	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if f.exporter.count() != 1 {
		t.Fatalf("double stop must export once, got %d", f.exporter.count())
	}
	if f.sim.StopStreamsCalls != 1 {
		t.Fatalf("double stop must hit the device once, got %d", f.sim.StopStreamsCalls)
	}

	f.notifier.mu.Lock()
	notices := len(f.notifier.notices)
	f.notifier.mu.Unlock()
	if notices != 1 {
		t.Fatalf("expected one recording notice, got %d", notices)
	}
}

func TestStopWithoutSamplesSkipsExport(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.exporter.count() != 0 {
		t.Fatalf("empty recording must not be exported")
	}
}

func TestUpdateDecimationIgnoresInvalidValues(t *testing.T) {
	f := newFixture(t)

	f.svc.UpdateDecimation(4, 0)
	gaze, imu := f.svc.Decimation()
	if gaze != 4 || imu != 5 {
		t.Fatalf("expected gaze=4 imu=5, got %d %d", gaze, imu)
	}

	f.svc.UpdateDecimation(-1, 1)
	gaze, imu = f.svc.Decimation()
	if gaze != 4 || imu != 1 {
		t.Fatalf("expected gaze=4 imu=1, got %d %d", gaze, imu)
	}
}

func TestCalibrateUsesKeepAliveWhenNotStreaming(t *testing.T) {
	f := newFixture(t)
	f.sim.CalibrateResult = true
	f.connect(t, 100)

	ok, err := f.svc.Calibrate(context.Background())
	if err != nil || !ok {
		t.Fatalf("calibrate: ok=%v err=%v", ok, err)
	}
	if f.sim.KeepAliveCalls != 1 {
		t.Fatalf("expected one keep-alive scope, got %d", f.sim.KeepAliveCalls)
	}
	if f.sim.KeepAliveHeld() != 0 {
		t.Fatalf("keep-alive scope leaked")
	}
	if !f.svc.Status().Calibrated {
		t.Fatalf("calibrated flag not set")
	}
}

func TestCalibrateReleasesKeepAliveOnFailure(t *testing.T) {
	f := newFixture(t)
	f.sim.CalibrateErr = errors.New("gaze not detected")
	f.connect(t, 100)

	if _, err := f.svc.Calibrate(context.Background()); err == nil {
		t.Fatalf("expected calibrate error")
	}
	if f.sim.KeepAliveHeld() != 0 {
		t.Fatalf("keep-alive scope leaked on failure")
	}
}

func TestCalibrateFailedVerdictClearsFlag(t *testing.T) {
	f := newFixture(t)
	f.sim.CalibrateResult = true
	f.connect(t, 100)

	if _, err := f.svc.Calibrate(context.Background()); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	f.sim.CalibrateResult = false
	ok, err := f.svc.Calibrate(context.Background())
	if err != nil || ok {
		t.Fatalf("expected failed verdict, got ok=%v err=%v", ok, err)
	}
	if f.svc.Status().Calibrated {
		t.Fatalf("calibrated flag must follow the failed verdict")
	}
}

func TestCalibrateSkipsKeepAliveWhileStreaming(t *testing.T) {
	f := newFixture(t)
	f.sim.CalibrateResult = true
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.StopStreaming(context.Background())

	if _, err := f.svc.Calibrate(context.Background()); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if f.sim.KeepAliveCalls != 0 {
		t.Fatalf("streaming session must not open a keep-alive scope")
	}
}

func TestMarkEventRequiresStreaming(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)

	if err := f.svc.MarkEvent(context.Background(), "trial-start", map[string]any{"trial": 1}); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("expected ErrNotStreaming, got %v", err)
	}

	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.svc.StopStreaming(context.Background())

	if err := f.svc.MarkEvent(context.Background(), "trial-start", map[string]any{"trial": 1}); err != nil {
		t.Fatalf("mark event: %v", err)
	}
	sent := f.sim.SentEvents()
	if len(sent) != 1 || sent[0].Tag != "trial-start" {
		t.Fatalf("event not injected: %+v", sent)
	}
}

func TestDisconnectStopsStreamAndResetsStatus(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sim.PushGaze(0.01, map[string]any{"gaze2d": []any{0.1, 0.2}})
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 1 })

	if err := f.svc.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if f.exporter.count() != 1 {
		t.Fatalf("disconnect mid-stream must export, got %d", f.exporter.count())
	}
	if !f.sim.Closed() {
		t.Fatalf("session not closed")
	}
	st := f.svc.Status()
	if st != (domain.DeviceStatus{}) {
		t.Fatalf("status must be fully reset, got %+v", st)
	}
	if err := f.svc.Disconnect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnectSwallowsCloseFailure(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)
	f.sim.CloseErr = errors.New("link already severed")

	if err := f.svc.Disconnect(context.Background()); err != nil {
		t.Fatalf("close failure must not propagate, got %v", err)
	}
	if !f.sim.Closed() {
		t.Fatalf("session not closed")
	}
	st := f.svc.Status()
	if st != (domain.DeviceStatus{}) {
		t.Fatalf("status must be fully reset, got %+v", st)
	}
	if f.svc.Connected() {
		t.Fatalf("service still reports connected")
	}
}

func TestStartStreamingClearsPreviousLiveQueue(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 100)

	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 4; i++ {
		f.sim.PushGaze(float64(i)*0.01, map[string]any{"gaze2d": []any{0.5, 0.5}})
	}
	waitFor(t, func() bool { return f.svc.Status().GazeSamples == 4 })
	if err := f.svc.StopStreaming(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := f.svc.StartStreaming(context.Background(), 0, 0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer f.svc.StopStreaming(context.Background())

	if f.queue.Len() != 0 {
		t.Fatalf("live queue must be cleared at stream start, got %d", f.queue.Len())
	}
	if f.svc.Status().GazeSamples != 0 {
		t.Fatalf("archives must be cleared at stream start")
	}
}
