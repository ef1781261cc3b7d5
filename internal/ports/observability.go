package ports

import "github.com/lzukanovic/tobii-mvp/internal/domain"

// Observability emits metrics and logs for the acquisition pipeline.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)

	// RecordMalformed counts a sample that failed normalization or field
	// mapping; the sample is skipped, never fatal to the receiver.
	RecordMalformed(sig domain.Signal, err error)
}

// Field is a structured log field.
type Field struct {
	Key   string
	Value any
}
