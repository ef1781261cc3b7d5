package domain

import (
	"encoding/json"
	"fmt"
)

// RawSample is an item taken off a device-native stream. Depending on the
// firmware and protocol path it arrives in one of three shapes: an ordered
// pair [timestamp, fields], a field map that may carry a "timestamp" key, or
// something unrecognized. Nothing past Normalize ever sees the raw shape.
type RawSample any

// Normalize collapses every wire shape into (device timestamp, field map).
// The timestamp is nil when the sample carries none; the field map is empty,
// never nil, for unrecognized shapes.
func Normalize(raw RawSample) (*float64, map[string]any) {
	switch v := raw.(type) {
	case []any:
		if len(v) >= 2 {
			ts := optNumeric(v[0])
			fields, ok := v[1].(map[string]any)
			if !ok {
				fields = map[string]any{}
			}
			return ts, fields
		}
	case map[string]any:
		return optNumeric(v["timestamp"]), v
	}
	return nil, map[string]any{}
}

// NewGazeRecord maps normalized gaze fields into the canonical record.
// Missing or null components stay absent; a present component of the wrong
// type makes the whole sample malformed.
func NewGazeRecord(deviceTS *float64, localTS float64, fields map[string]any) (GazeRecord, error) {
	rec := GazeRecord{DeviceTS: deviceTS, LocalTS: localTS}

	g2d, err := optVec(fields, "gaze2d", 2)
	if err != nil {
		return GazeRecord{}, err
	}
	rec.Gaze2DX, rec.Gaze2DY = g2d[0], g2d[1]

	g3d, err := optVec(fields, "gaze3d", 3)
	if err != nil {
		return GazeRecord{}, err
	}
	rec.Gaze3DX, rec.Gaze3DY, rec.Gaze3DZ = g3d[0], g3d[1], g3d[2]

	left, err := optMap(fields, "eyeleft")
	if err != nil {
		return GazeRecord{}, err
	}
	if left != nil {
		origin, err := optVec(left, "gazeorigin", 3)
		if err != nil {
			return GazeRecord{}, err
		}
		dir, err := optVec(left, "gazedirection", 3)
		if err != nil {
			return GazeRecord{}, err
		}
		pupil, err := optFloat(left, "pupildiameter")
		if err != nil {
			return GazeRecord{}, err
		}
		rec.LeftOriginX, rec.LeftOriginY, rec.LeftOriginZ = origin[0], origin[1], origin[2]
		rec.LeftDirX, rec.LeftDirY, rec.LeftDirZ = dir[0], dir[1], dir[2]
		rec.LeftPupil = pupil
	}

	right, err := optMap(fields, "eyeright")
	if err != nil {
		return GazeRecord{}, err
	}
	if right != nil {
		origin, err := optVec(right, "gazeorigin", 3)
		if err != nil {
			return GazeRecord{}, err
		}
		dir, err := optVec(right, "gazedirection", 3)
		if err != nil {
			return GazeRecord{}, err
		}
		pupil, err := optFloat(right, "pupildiameter")
		if err != nil {
			return GazeRecord{}, err
		}
		rec.RightOriginX, rec.RightOriginY, rec.RightOriginZ = origin[0], origin[1], origin[2]
		rec.RightDirX, rec.RightDirY, rec.RightDirZ = dir[0], dir[1], dir[2]
		rec.RightPupil = pupil
	}

	return rec, nil
}

// NewImuRecord maps normalized inertial fields into the canonical record.
func NewImuRecord(deviceTS *float64, localTS float64, fields map[string]any) (ImuRecord, error) {
	rec := ImuRecord{DeviceTS: deviceTS, LocalTS: localTS}

	accel, err := optVec(fields, "accelerometer", 3)
	if err != nil {
		return ImuRecord{}, err
	}
	gyro, err := optVec(fields, "gyroscope", 3)
	if err != nil {
		return ImuRecord{}, err
	}
	mag, err := optVec(fields, "magnetometer", 3)
	if err != nil {
		return ImuRecord{}, err
	}

	rec.AccelX, rec.AccelY, rec.AccelZ = accel[0], accel[1], accel[2]
	rec.GyroX, rec.GyroY, rec.GyroZ = gyro[0], gyro[1], gyro[2]
	rec.MagX, rec.MagY, rec.MagZ = mag[0], mag[1], mag[2]
	return rec, nil
}

// NewEventRecord stores the payload verbatim; event samples are opaque and
// cannot be malformed.
func NewEventRecord(deviceTS *float64, localTS float64, fields map[string]any) EventRecord {
	return EventRecord{DeviceTS: deviceTS, LocalTS: localTS, Payload: fields}
}

// NewSyncRecord stores the sync-port payload verbatim.
func NewSyncRecord(deviceTS *float64, localTS float64, fields map[string]any) SyncRecord {
	return SyncRecord{DeviceTS: deviceTS, LocalTS: localTS, Payload: fields}
}

// optNumeric converts a loosely typed wire value to *float64, nil when the
// value is missing or non-numeric.
func optNumeric(v any) *float64 {
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// optVec reads an array field of up to n numeric components. Components past
// the wire length, null components, and a missing or null field are absent.
func optVec(fields map[string]any, key string, n int) ([]*float64, error) {
	out := make([]*float64, n)
	v, ok := fields[key]
	if !ok || v == nil {
		return out, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", key, v)
	}
	for i := 0; i < n && i < len(arr); i++ {
		if arr[i] == nil {
			continue
		}
		f, ok := asFloat(arr[i])
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: expected number, got %T", key, i, arr[i])
		}
		out[i] = &f
	}
	return out, nil
}

func optFloat(fields map[string]any, key string) (*float64, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil, fmt.Errorf("field %q: expected number, got %T", key, v)
	}
	return &f, nil
}

func optMap(fields map[string]any, key string) (map[string]any, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected object, got %T", key, v)
	}
	return m, nil
}
