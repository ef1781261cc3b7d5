package tobiimvp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/adapters/devicesim"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/journal"
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

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Recordings: RecordingsConfig{Dir: t.TempDir()},
	}
}

func newHub(t *testing.T, cfg *Config, sim *devicesim.Sim) *Hub {
	t.Helper()
	h, err := ConfFromConfig(cfg,
		WithDialer(sim),
		WithObservability(stubObs{}),
		WithoutServers())
	if err != nil {
		t.Fatalf("assemble hub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = h.Shutdown(shutdownCtx)
	})
	return h
}

func TestHubFullSessionProducesRecording(t *testing.T) {
	sim := devicesim.New()
	h := newHub(t, testConfig(t), sim)
	svc := h.Service()
	ctx := context.Background()

	if err := svc.Connect(ctx, "tg03b.local", 100); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := svc.StartStreaming(ctx, 0, 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 6; i++ {
		sim.PushGaze(float64(i)*0.01, map[string]any{"gaze2d": []any{0.5, 0.5}})
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && svc.Status().GazeSamples < 6 {
		time.Sleep(2 * time.Millisecond)
	}

	if err := svc.StopStreaming(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	infos, err := h.Recordings().List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Type != "gaze" {
		t.Fatalf("expected one gaze recording, got %+v", infos)
	}
}

func TestHubRecoversJournalOnStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recordings.JournalDir = t.TempDir()

	// Leave a half-written session behind, the way a crash would.
	j, err := journal.Open(cfg.Recordings.JournalDir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	meta := domain.RecordingMeta{Serial: "TG03B-CRASH", GazeFreq: 100}
	if err := j.Begin("rec-crashed", meta, time.Now()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	ts := 0.5
	x := 0.4
	if err := j.Append(domain.SignalGaze, domain.GazeRecord{DeviceTS: &ts, LocalTS: 1, Gaze2DX: &x}); err != nil {
		t.Fatalf("append: %v", err)
	}

	h := newHub(t, cfg, devicesim.New())

	infos, err := h.Recordings().List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || !strings.Contains(infos[0].Filename, "recovered") {
		t.Fatalf("expected a recovered recording, got %+v", infos)
	}
	if infos[0].Metadata["serial"] != "TG03B-CRASH" {
		t.Fatalf("recovered metadata missing: %+v", infos[0].Metadata)
	}
}

func TestHubShutdownDisconnectsDevice(t *testing.T) {
	sim := devicesim.New()
	h := newHub(t, testConfig(t), sim)
	ctx := context.Background()

	if err := h.Service().Connect(ctx, "tg03b.local", 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !sim.Closed() {
		t.Fatalf("device session must be closed on shutdown")
	}
}
