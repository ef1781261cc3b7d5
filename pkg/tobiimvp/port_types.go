package tobiimvp

import (
	"github.com/lzukanovic/tobii-mvp/internal/adapters/sink"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// Dialer opens a device session; inject one to replace the websocket client
// with a simulator or a replay source.
type Dialer = ports.Dialer

// Session is the owned handle to a connected device.
type Session = ports.Session

// Subscription is one device-native sample stream.
type Subscription = ports.Subscription

// LiveQueue is the bounded drop-newest queue feeding the live view.
type LiveQueue = ports.LiveQueue

// Exporter serializes a finished recording to durable storage.
type Exporter = ports.Exporter

// Notifier receives status snapshots and recording announcements.
type Notifier = ports.Notifier

// Observability emits metrics and logs for the pipeline.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// RecordingFunc is the callback form of an exporter.
type RecordingFunc = sink.RecordingFunc

// RecordingInfo describes one stored recording file.
type RecordingInfo = sink.RecordingInfo

// NewCallbackExporter adapts a plain function into an Exporter so embedders
// can capture recordings without defining a type.
func NewCallbackExporter(name string, fn RecordingFunc) Exporter {
	return sink.NewCallbackExporter(name, fn)
}

// NewMultiExporter fans one recording out to several exporters.
func NewMultiExporter(exporters ...Exporter) Exporter {
	return sink.NewMultiExporter(exporters...)
}
