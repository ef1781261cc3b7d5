package sink

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
)

func TestPostgresSinkExport(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewPostgresSink(db, "samples")

	rec := &domain.Recording{
		ID:        "rec-1",
		StartedAt: time.Now(),
		StoppedAt: time.Now(),
		Gaze: []domain.GazeRecord{
			{DeviceTS: fp(0.5), LocalTS: 10.0, Gaze2DX: fp(0.1)},
			{LocalTS: 10.01},
		},
		Events: []domain.EventRecord{
			{LocalTS: 10.02, Payload: map[string]any{"tag": "blink"}},
		},
	}

	expectedQuery := regexp.QuoteMeta(
		"INSERT INTO samples (recording_id, signal, seq, device_ts, local_ts, payload) VALUES " +
			"($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12),($13,$14,$15,$16,$17,$18)" +
			" ON CONFLICT (recording_id, signal, seq) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs(
			"rec-1", "gaze", 0, 0.5, 10.0, sqlmock.AnyArg(),
			"rec-1", "gaze", 1, nil, 10.01, sqlmock.AnyArg(),
			"rec-1", "event", 0, nil, 10.02, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(3, 3))

	if _, err := sink.Export(rec); err != nil {
		t.Fatalf("export: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSinkExportEmptyRecording(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewPostgresSink(db, "samples")
	if _, err := sink.Export(&domain.Recording{ID: "rec-2"}); err != nil {
		t.Fatalf("expected nil error for empty recording, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	sink := NewPostgresSink(db, "samples")
	if sink.Name() != "postgres" {
		t.Fatalf("expected sink name postgres, got %s", sink.Name())
	}
}
