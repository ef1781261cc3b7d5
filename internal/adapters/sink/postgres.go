package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// insertChunk bounds rows per INSERT so the statement stays well under the
// driver's parameter limit.
const insertChunk = 1000

// PostgresSink mirrors a finished recording into a relational archive, one
// row per sample with the record as a JSON payload. Inserts are idempotent
// via the (recording_id, signal, seq) key.
type PostgresSink struct {
	db    *sql.DB
	table string
}

func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	return &PostgresSink{db: db, table: table}
}

func (s *PostgresSink) Name() string { return "postgres" }

type archiveRow struct {
	signal   domain.Signal
	seq      int
	deviceTS *float64
	localTS  float64
	payload  any
}

func (s *PostgresSink) Export(rec *domain.Recording) ([]string, error) {
	rows := collectRows(rec)
	if len(rows) == 0 {
		return nil, nil
	}

	for start := 0; start < len(rows); start += insertChunk {
		end := start + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.insert(rec.ID, rows[start:end]); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *PostgresSink) insert(recordingID string, rows []archiveRow) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (recording_id, signal, seq, device_ts, local_ts, payload) VALUES ")

	args := make([]any, 0, len(rows)*6)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))

		payload, err := json.Marshal(row.payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", row.signal, err)
		}

		var deviceTS any
		if row.deviceTS != nil {
			deviceTS = *row.deviceTS
		}
		args = append(args, recordingID, string(row.signal), row.seq, deviceTS, row.localTS, payload)
	}

	b.WriteString(" ON CONFLICT (recording_id, signal, seq) DO NOTHING")

	_, err := s.db.Exec(b.String(), args...)
	return err
}

func collectRows(rec *domain.Recording) []archiveRow {
	total := len(rec.Gaze) + len(rec.Imu) + len(rec.Events) + len(rec.Syncs)
	rows := make([]archiveRow, 0, total)

	for i, r := range rec.Gaze {
		rows = append(rows, archiveRow{domain.SignalGaze, i, r.DeviceTS, r.LocalTS, r})
	}
	for i, r := range rec.Imu {
		rows = append(rows, archiveRow{domain.SignalImu, i, r.DeviceTS, r.LocalTS, r})
	}
	for i, r := range rec.Events {
		rows = append(rows, archiveRow{domain.SignalEvent, i, r.DeviceTS, r.LocalTS, r})
	}
	for i, r := range rec.Syncs {
		rows = append(rows, archiveRow{domain.SignalSync, i, r.DeviceTS, r.LocalTS, r})
	}
	return rows
}

var _ ports.Exporter = (*PostgresSink)(nil)
