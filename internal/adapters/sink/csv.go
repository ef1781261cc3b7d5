// Package sink holds the recording exporters: CSV files on disk and an
// optional Postgres archive.
package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

var gazeColumns = []string{
	"DeviceTS", "LocalTS",
	"Gaze2D_X", "Gaze2D_Y",
	"Gaze3D_X", "Gaze3D_Y", "Gaze3D_Z",
	"EyeLeft_OriginX", "EyeLeft_OriginY", "EyeLeft_OriginZ",
	"EyeLeft_DirX", "EyeLeft_DirY", "EyeLeft_DirZ",
	"EyeLeft_PupilDiameter",
	"EyeRight_OriginX", "EyeRight_OriginY", "EyeRight_OriginZ",
	"EyeRight_DirX", "EyeRight_DirY", "EyeRight_DirZ",
	"EyeRight_PupilDiameter",
}

var imuColumns = []string{
	"DeviceTS", "LocalTS",
	"Accel_X", "Accel_Y", "Accel_Z",
	"Gyro_X", "Gyro_Y", "Gyro_Z",
	"Mag_X", "Mag_Y", "Mag_Z",
}

var payloadColumns = []string{"DeviceTS", "LocalTS", "Data"}

var signalTitles = map[domain.Signal]string{
	domain.SignalGaze:  "Tobii Gaze Recording",
	domain.SignalImu:   "Tobii IMU Recording",
	domain.SignalEvent: "Tobii Event Recording",
	domain.SignalSync:  "Tobii SyncPort Recording",
}

// CSVExporter writes one file per non-empty enabled signal, each with a
// commented metadata preamble, a fixed column header, and one row per
// archived record. Absent values are written as empty cells, never zero.
type CSVExporter struct {
	dir     string
	signals map[domain.Signal]bool
}

// NewCSVExporter creates the recordings directory if needed. Which signals
// get an export unit is configurable; the traditional coverage is gaze+imu.
func NewCSVExporter(dir string, signals []domain.Signal) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	enabled := make(map[domain.Signal]bool, len(signals))
	for _, sig := range signals {
		if !sig.Valid() {
			return nil, fmt.Errorf("csv exporter: unknown signal %q", sig)
		}
		enabled[sig] = true
	}
	return &CSVExporter{dir: dir, signals: enabled}, nil
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Export(rec *domain.Recording) ([]string, error) {
	stamp := rec.StoppedAt.Format("20060102_150405")
	var files []string

	for _, sig := range domain.Signals {
		if !e.signals[sig] || rec.Samples(sig) == 0 {
			continue
		}
		name := fmt.Sprintf("tobii_%s_%s.csv", sig, stamp)
		if rec.Recovered {
			name = fmt.Sprintf("tobii_%s_recovered_%s.csv", sig, stamp)
		}
		if err := e.writeFile(name, sig, rec); err != nil {
			return files, fmt.Errorf("export %s: %w", sig, err)
		}
		files = append(files, name)
	}
	return files, nil
}

func (e *CSVExporter) writeFile(name string, sig domain.Signal, rec *domain.Recording) error {
	f, err := os.Create(filepath.Join(e.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	title := signalTitles[sig]
	if rec.Recovered {
		title += " (recovered)"
	}
	preamble := [][]string{
		{"# " + title},
		{"# Timestamp", rec.StoppedAt.Format("2006-01-02 15:04:05")},
		{"# Recording ID", rec.ID},
		{"# Serial", orNA(rec.Meta.Serial)},
		{"# Firmware", orNA(rec.Meta.Firmware)},
		{"# Battery (%)", strconv.FormatFloat(rec.Meta.Battery, 'f', 1, 64)},
		{"# Gaze Frequency (Hz)", strconv.Itoa(rec.Meta.GazeFreq)},
		{"# Total Samples", strconv.Itoa(rec.Samples(sig))},
		{},
	}
	for _, row := range preamble {
		if err := w.Write(row); err != nil {
			return err
		}
	}

	if err := w.Write(columnsFor(sig)); err != nil {
		return err
	}
	if err := writeRows(w, sig, rec); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}

func columnsFor(sig domain.Signal) []string {
	switch sig {
	case domain.SignalGaze:
		return gazeColumns
	case domain.SignalImu:
		return imuColumns
	}
	return payloadColumns
}

func writeRows(w *csv.Writer, sig domain.Signal, rec *domain.Recording) error {
	switch sig {
	case domain.SignalGaze:
		for _, r := range rec.Gaze {
			row := []string{
				cell(r.DeviceTS), num(r.LocalTS),
				cell(r.Gaze2DX), cell(r.Gaze2DY),
				cell(r.Gaze3DX), cell(r.Gaze3DY), cell(r.Gaze3DZ),
				cell(r.LeftOriginX), cell(r.LeftOriginY), cell(r.LeftOriginZ),
				cell(r.LeftDirX), cell(r.LeftDirY), cell(r.LeftDirZ),
				cell(r.LeftPupil),
				cell(r.RightOriginX), cell(r.RightOriginY), cell(r.RightOriginZ),
				cell(r.RightDirX), cell(r.RightDirY), cell(r.RightDirZ),
				cell(r.RightPupil),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	case domain.SignalImu:
		for _, r := range rec.Imu {
			row := []string{
				cell(r.DeviceTS), num(r.LocalTS),
				cell(r.AccelX), cell(r.AccelY), cell(r.AccelZ),
				cell(r.GyroX), cell(r.GyroY), cell(r.GyroZ),
				cell(r.MagX), cell(r.MagY), cell(r.MagZ),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	case domain.SignalEvent:
		for _, r := range rec.Events {
			env := domain.EventEnvelope(r)
			if err := w.Write([]string{cell(r.DeviceTS), num(r.LocalTS), env.Data}); err != nil {
				return err
			}
		}
	case domain.SignalSync:
		for _, r := range rec.Syncs {
			env := domain.SyncEnvelope(r)
			if err := w.Write([]string{cell(r.DeviceTS), num(r.LocalTS), env.Data}); err != nil {
				return err
			}
		}
	}
	return nil
}

// cell renders an optional value; absence is an empty cell.
func cell(p *float64) string {
	if p == nil {
		return ""
	}
	return num(*p)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// RecordingInfo describes one stored CSV for the listing endpoint.
type RecordingInfo struct {
	Filename string            `json:"filename"`
	Type     string            `json:"type"`
	Size     int64             `json:"size"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

// List returns every stored recording file, newest first, with the parsed
// preamble metadata.
func (e *CSVExporter) List() ([]RecordingInfo, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RecordingInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, RecordingInfo{
			Filename: entry.Name(),
			Type:     typeFromName(entry.Name()),
			Size:     info.Size(),
			Created:  info.ModTime().Unix(),
			Metadata: e.readPreamble(entry.Name()),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

// Path resolves a stored recording for download. The name is reduced to its
// base to keep traversal out of the recordings directory.
func (e *CSVExporter) Path(filename string) (string, bool) {
	path := filepath.Join(e.dir, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (e *CSVExporter) readPreamble(name string) map[string]string {
	f, err := os.Open(filepath.Join(e.dir, name))
	if err != nil {
		return nil
	}
	defer f.Close()

	meta := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		key, value, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "# Serial":
			meta["serial"] = value
		case "# Total Samples":
			meta["samples"] = value
		case "# Timestamp":
			meta["start_time"] = value
		}
	}
	return meta
}

func typeFromName(name string) string {
	for _, sig := range domain.Signals {
		if strings.Contains(name, "_"+string(sig)+"_") {
			return string(sig)
		}
	}
	return "unknown"
}

var _ ports.Exporter = (*CSVExporter)(nil)
