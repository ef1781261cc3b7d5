// Package tobiimvp wires the acquisition hub together: device dialer,
// execution bridge, live queue, archive exporters, crash journal, and the
// interactive gateway. It is the embedding surface for Go services that want
// the hub inside their own process.
package tobiimvp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lzukanovic/tobii-mvp/internal/acquisition"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/g3"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/journal"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/observability"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/queue"
	"github.com/lzukanovic/tobii-mvp/internal/adapters/sink"
	"github.com/lzukanovic/tobii-mvp/internal/bridge"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/gateway"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// HubOption customizes the dependencies used by the hub.
type HubOption func(*hubOverrides)

type hubOverrides struct {
	dialer        ports.Dialer
	queue         ports.LiveQueue
	exporter      ports.Exporter
	notifier      ports.Notifier
	observability ports.Observability
	disableHTTP   bool
}

// WithDialer injects a custom device dialer (simulators, recordings replay).
func WithDialer(d ports.Dialer) HubOption {
	return func(o *hubOverrides) { o.dialer = d }
}

// WithLiveQueue injects a custom live-view queue implementation.
func WithLiveQueue(q ports.LiveQueue) HubOption {
	return func(o *hubOverrides) { o.queue = q }
}

// WithExporter adds an extra export destination alongside the CSV store.
func WithExporter(e ports.Exporter) HubOption {
	return func(o *hubOverrides) { o.exporter = e }
}

// WithNotifier adds an extra observer for status and recording events.
func WithNotifier(n ports.Notifier) HubOption {
	return func(o *hubOverrides) { o.notifier = n }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) HubOption {
	return func(o *hubOverrides) { o.observability = obs }
}

// WithoutServers disables the gateway and metrics listeners for embedders
// that drive the hub through its Go API only.
func WithoutServers() HubOption {
	return func(o *hubOverrides) { o.disableHTTP = true }
}

// Hub bundles the assembled runtime.
type Hub struct {
	cfg *Config
	obs ports.Observability

	br      *bridge.Bridge
	svc     *acquisition.Service
	queue   ports.LiveQueue
	csv     *sink.CSVExporter
	journal *journal.Journal
	gw      *gateway.Server
	db      *sql.DB

	serveHTTP  bool
	metricsSrv *http.Server
	gaugeStop  chan struct{}
}

// Conf loads the configuration file and assembles a hub.
func Conf(path string, opts ...HubOption) (*Hub, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig assembles a hub from an in-memory configuration.
func ConfFromConfig(cfg *Config, opts ...HubOption) (*Hub, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var overrides hubOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	q := overrides.queue
	if q == nil {
		q = queue.NewLiveQueue(cfg.Live.LiveQueueCap)
	}

	dialer := overrides.dialer
	if dialer == nil {
		dialer = g3.NewDialer(obs, g3.WithHandshakeTimeout(cfg.Device.ConnectTimeout))
	}

	csv, err := sink.NewCSVExporter(cfg.Recordings.Dir, cfg.ExportSignals())
	if err != nil {
		return nil, err
	}

	exporters := []ports.Exporter{csv}
	var db *sql.DB
	if cfg.Postgres.ConnString != "" {
		db, err = sql.Open("postgres", cfg.Postgres.ConnString)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, sink.NewPostgresSink(db, cfg.Postgres.Table))
	}
	if overrides.exporter != nil {
		exporters = append(exporters, overrides.exporter)
	}
	exporter := sink.NewMultiExporter(exporters...)

	h := &Hub{
		cfg:       cfg,
		obs:       obs,
		queue:     q,
		csv:       csv,
		db:        db,
		serveHTTP: !overrides.disableHTTP,
	}

	if cfg.Recordings.JournalDir != "" {
		h.journal, err = journal.Open(cfg.Recordings.JournalDir)
		if err != nil {
			return nil, err
		}
	}

	h.br = bridge.New(obs)

	svcOpts := []acquisition.Option{acquisition.WithExporter(exporter)}
	if h.journal != nil {
		svcOpts = append(svcOpts, acquisition.WithJournal(h.journal))
	}

	h.gw = gateway.New(nil, q, csv, obs,
		gateway.WithDeviceDefaults(cfg.Device.Hostname, cfg.Device.DesiredGazeHz),
		gateway.WithIdleSleep(cfg.Live.IdleSleep))

	notifier := ports.Notifier(h.gw)
	if overrides.notifier != nil {
		notifier = fanoutNotifier{h.gw, overrides.notifier}
	}
	svcOpts = append(svcOpts, acquisition.WithNotifier(notifier))

	h.svc = acquisition.New(dialer, h.br, q, obs, cfg.Live, svcOpts...)
	h.gw.SetController(h.svc)

	return h, nil
}

// Service exposes the acquisition state machine for embedders.
func (h *Hub) Service() *acquisition.Service { return h.svc }

// Recordings exposes the stored-recordings library.
func (h *Hub) Recordings() *sink.CSVExporter { return h.csv }

// Start launches the bridge and the HTTP listeners, and salvages a crashed
// session from the journal if one is present. It returns immediately; call
// Run to block on a context instead.
func (h *Hub) Start(ctx context.Context) error {
	h.br.Start()
	h.recoverJournal()

	if h.serveHTTP {
		go func() {
			if err := h.gw.Run(ctx, h.cfg.Server.Addr); err != nil {
				h.obs.LogCritical("gateway_exited", err)
			}
		}()
		h.startMetrics()
	}
	return nil
}

// Run starts the hub and blocks until the context is cancelled, then shuts
// down gracefully: an active stream is stopped and exported first.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// Shutdown quiesces the hub. Safe to call once after Start.
func (h *Hub) Shutdown(ctx context.Context) error {
	var errs []error

	if h.svc.Connected() {
		if err := h.svc.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if h.gaugeStop != nil {
		close(h.gaugeStop)
		h.gaugeStop = nil
	}
	if h.metricsSrv != nil {
		if err := h.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := h.br.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if h.db != nil {
		if err := h.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// recoverJournal exports whatever a crashed session left behind. The journal
// is discarded afterwards either way; a recording that fails to export twice
// is not worth blocking startup over.
func (h *Hub) recoverJournal() {
	if h.journal == nil {
		return
	}
	rec, err := h.journal.Recover()
	if err != nil {
		h.obs.LogError("journal_recover_failed", err)
		if err := h.journal.Discard(); err != nil {
			h.obs.LogError("journal_discard_failed", err)
		}
		return
	}
	if rec == nil {
		return
	}

	h.obs.LogInfo("journal_recovered",
		ports.Field{Key: "recording", Value: rec.ID},
		ports.Field{Key: "gaze", Value: len(rec.Gaze)},
		ports.Field{Key: "imu", Value: len(rec.Imu)})

	if _, err := h.csv.Export(rec); err != nil {
		h.obs.LogError("journal_export_failed", err)
	}
	if err := h.journal.Discard(); err != nil {
		h.obs.LogError("journal_discard_failed", err)
	}
}

func (h *Hub) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	h.metricsSrv = &http.Server{
		Addr:    h.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := h.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	h.gaugeStop = make(chan struct{})
	go h.recordResourceGauges(h.gaugeStop, time.Second)
}

func (h *Hub) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.obs.SetGauge("tobii_live_queue_length", float64(h.queue.Len()))
		}
	}
}

// fanoutNotifier delivers every notification to all targets.
type fanoutNotifier []ports.Notifier

func (f fanoutNotifier) StatusChanged(st domain.DeviceStatus) {
	for _, n := range f {
		n.StatusChanged(st)
	}
}

func (f fanoutNotifier) RecordingSaved(notice ports.RecordingNotice) {
	for _, n := range f {
		n.RecordingSaved(notice)
	}
}
