package sink

import (
	"errors"
	"fmt"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// RecordingFunc is the callback form of an exporter.
type RecordingFunc func(rec *domain.Recording) ([]string, error)

// NewCallbackExporter adapts a plain function into a ports.Exporter so
// embedders can capture recordings without defining a type.
func NewCallbackExporter(name string, fn RecordingFunc) ports.Exporter {
	if name == "" {
		name = "callback"
	}
	return &callbackExporter{name: name, fn: fn}
}

type callbackExporter struct {
	name string
	fn   RecordingFunc
}

func (e *callbackExporter) Export(rec *domain.Recording) ([]string, error) {
	if e.fn == nil {
		return nil, fmt.Errorf("callback exporter %q: nil handler", e.name)
	}
	return e.fn(rec)
}

func (e *callbackExporter) Name() string { return e.name }

// NewMultiExporter fans one recording out to several exporters. Every
// exporter runs even when an earlier one fails; errors are joined.
func NewMultiExporter(exporters ...ports.Exporter) ports.Exporter {
	return multiExporter(exporters)
}

type multiExporter []ports.Exporter

func (m multiExporter) Export(rec *domain.Recording) ([]string, error) {
	var (
		files []string
		errs  []error
	)
	for _, e := range m {
		f, err := e.Export(rec)
		files = append(files, f...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		}
	}
	return files, errors.Join(errs...)
}

func (m multiExporter) Name() string { return "multi" }
