// Package observability backs the ports.Observability interface with
// Prometheus metrics and stdlib logging.
package observability

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// Metric names used across the pipeline.
const (
	MetricGazeSamples   = "tobii_gaze_samples_total"
	MetricImuSamples    = "tobii_imu_samples_total"
	MetricEventSamples  = "tobii_event_samples_total"
	MetricSyncSamples   = "tobii_sync_samples_total"
	MetricLiveEnvelopes = "tobii_live_envelopes_total"
	MetricLiveDropped   = "tobii_live_dropped_total"
	MetricMalformed     = "tobii_malformed_samples_total"
	MetricRecordings    = "tobii_recordings_total"

	MetricLiveQueueLen = "tobii_live_queue_length"
	MetricBattery      = "tobii_battery_percent"
	MetricStreaming    = "tobii_streaming"

	MetricExportDuration = "tobii_export_duration_seconds"
)

// PromObs registers its collectors on the default registerer; construct it
// once per process.
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		MetricGazeSamples:   counter(MetricGazeSamples, "Full-fidelity gaze samples archived."),
		MetricImuSamples:    counter(MetricImuSamples, "Full-fidelity inertial samples archived."),
		MetricEventSamples:  counter(MetricEventSamples, "Device events archived."),
		MetricSyncSamples:   counter(MetricSyncSamples, "Sync-port signals archived."),
		MetricLiveEnvelopes: counter(MetricLiveEnvelopes, "Envelopes accepted by the live-view queue."),
		MetricLiveDropped:   counter(MetricLiveDropped, "Envelopes dropped because the live-view queue was full."),
		MetricMalformed:     counter(MetricMalformed, "Samples skipped because a field failed to map."),
		MetricRecordings:    counter(MetricRecordings, "Recordings exported."),
	}
	gauges := map[string]prometheus.Gauge{
		MetricLiveQueueLen: gauge(MetricLiveQueueLen, "Current live-view queue occupancy."),
		MetricBattery:      gauge(MetricBattery, "Last reported battery charge percent."),
		MetricStreaming:    gauge(MetricStreaming, "1 while a streaming session is active."),
	}
	exportDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricExportDuration,
		Help:    "Time to serialize a finished recording.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	for _, c := range counters {
		prometheus.MustRegister(c)
	}
	for _, g := range gauges {
		prometheus.MustRegister(g)
	}
	prometheus.MustRegister(exportDur)

	return &PromObs{
		counters: counters,
		gauges:   gauges,
		histos:   map[string]prometheus.Observer{MetricExportDuration: exportDur},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) RecordMalformed(sig domain.Signal, err error) {
	p.IncCounter(MetricMalformed, 1)
	if err != nil {
		log.Printf("malformed %s sample skipped: %v", sig, err)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for _, f := range fields {
		out += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
