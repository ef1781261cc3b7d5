// Package journal keeps an on-disk copy of the in-flight recording so a
// crash mid-stream does not lose archived samples. The journal is written
// sample-by-sample while streaming, discarded after a successful export, and
// replayed into a recovered recording on the next start.
package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
)

const (
	logName  = "journal.log"
	metaName = "journal.meta"

	// frame: [1 byte signal code][4 bytes payload len][payload JSON]
	frameHeaderLen = 5
)

var signalCodes = map[domain.Signal]byte{
	domain.SignalGaze:  1,
	domain.SignalImu:   2,
	domain.SignalEvent: 3,
	domain.SignalSync:  4,
}

type metaFile struct {
	ID        string               `json:"id"`
	Meta      domain.RecordingMeta `json:"meta"`
	StartedAt time.Time            `json:"started_at"`
}

// Journal is safe for use by the four receivers concurrently.
type Journal struct {
	mu     sync.Mutex
	dir    string
	file   *os.File
	writer *bufio.Writer
	active bool
}

// Open prepares the journal directory. It does not start a journal; call
// Begin at stream-start.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Journal{dir: dir}, nil
}

// Begin starts a fresh journal for one recording, replacing any stale one.
func (j *Journal) Begin(id string, meta domain.RecordingMeta, startedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.closeLocked(); err != nil {
		return err
	}

	mb, err := json.Marshal(metaFile{ID: id, Meta: meta, StartedAt: startedAt})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(j.dir, metaName), mb, 0o644); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(j.dir, logName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	j.writer = bufio.NewWriterSize(f, 1<<16)
	j.active = true
	return nil
}

// Append journals one archived record. Flushed per sample: crash safety is
// the whole point of the journal.
func (j *Journal) Append(sig domain.Signal, record any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.active {
		return errors.New("journal: no active recording")
	}

	code, ok := signalCodes[sig]
	if !ok {
		return fmt.Errorf("journal: unknown signal %q", sig)
	}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}

	var hdr [frameHeaderLen]byte
	hdr[0] = code
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(b)))
	if _, err := j.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := j.writer.Write(b); err != nil {
		return err
	}
	return j.writer.Flush()
}

// End discards the journal after a successful export.
func (j *Journal) End() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.closeLocked(); err != nil {
		return err
	}
	return j.removeLocked()
}

// Recover replays a leftover journal into a recording marked Recovered, or
// returns nil when there is nothing to recover. A truncated tail frame is
// tolerated: everything before it is kept.
func (j *Journal) Recover() (*domain.Recording, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active {
		return nil, errors.New("journal: recover during active recording")
	}

	mb, err := os.ReadFile(filepath.Join(j.dir, metaName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var meta metaFile
	if err := json.Unmarshal(mb, &meta); err != nil {
		return nil, fmt.Errorf("journal meta parse: %w", err)
	}

	f, err := os.Open(filepath.Join(j.dir, logName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	rec := &domain.Recording{
		ID:        meta.ID,
		Meta:      meta.Meta,
		StartedAt: meta.StartedAt,
		StoppedAt: time.Now(),
		Recovered: true,
	}

	r := bufio.NewReader(f)
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		payload := make([]byte, binary.BigEndian.Uint32(hdr[1:5]))
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if err := appendRecovered(rec, hdr[0], payload); err != nil {
			return nil, err
		}
	}

	if rec.Samples(domain.SignalGaze) == 0 && rec.Samples(domain.SignalImu) == 0 &&
		rec.Samples(domain.SignalEvent) == 0 && rec.Samples(domain.SignalSync) == 0 {
		return nil, nil
	}
	return rec, nil
}

// Discard removes leftover journal files without replaying them.
func (j *Journal) Discard() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.closeLocked(); err != nil {
		return err
	}
	return j.removeLocked()
}

func appendRecovered(rec *domain.Recording, code byte, payload []byte) error {
	switch code {
	case signalCodes[domain.SignalGaze]:
		var r domain.GazeRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("journal gaze entry: %w", err)
		}
		rec.Gaze = append(rec.Gaze, r)
	case signalCodes[domain.SignalImu]:
		var r domain.ImuRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("journal imu entry: %w", err)
		}
		rec.Imu = append(rec.Imu, r)
	case signalCodes[domain.SignalEvent]:
		var r domain.EventRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("journal event entry: %w", err)
		}
		rec.Events = append(rec.Events, r)
	case signalCodes[domain.SignalSync]:
		var r domain.SyncRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("journal sync entry: %w", err)
		}
		rec.Syncs = append(rec.Syncs, r)
	default:
		return fmt.Errorf("journal: unknown signal code %d", code)
	}
	return nil
}

func (j *Journal) closeLocked() error {
	if j.file == nil {
		return nil
	}
	var err error
	if j.writer != nil {
		err = j.writer.Flush()
	}
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	j.writer = nil
	j.active = false
	return err
}

func (j *Journal) removeLocked() error {
	for _, name := range []string{logName, metaName} {
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
