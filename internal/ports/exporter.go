package ports

import "github.com/lzukanovic/tobii-mvp/internal/domain"

// Exporter serializes a finished recording to durable storage. It runs after
// stop-streaming has fully quiesced the receivers, so the recording's
// archives are stable. Empty archives produce no export unit.
type Exporter interface {
	// Export returns the names of the export units it produced (may be
	// empty for exporters without a file notion).
	Export(rec *domain.Recording) ([]string, error)
	Name() string
}
