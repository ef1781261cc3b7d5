package domain

import "time"

// GazeRecord is one full-fidelity gaze sample. Optional components are
// pointers so that "absent" survives through to export instead of collapsing
// to zero.
type GazeRecord struct {
	DeviceTS *float64 `json:"device_ts"`
	LocalTS  float64  `json:"local_ts"`

	Gaze2DX *float64 `json:"gaze2d_x"`
	Gaze2DY *float64 `json:"gaze2d_y"`

	Gaze3DX *float64 `json:"gaze3d_x"`
	Gaze3DY *float64 `json:"gaze3d_y"`
	Gaze3DZ *float64 `json:"gaze3d_z"`

	LeftOriginX *float64 `json:"left_origin_x"`
	LeftOriginY *float64 `json:"left_origin_y"`
	LeftOriginZ *float64 `json:"left_origin_z"`
	LeftDirX    *float64 `json:"left_dir_x"`
	LeftDirY    *float64 `json:"left_dir_y"`
	LeftDirZ    *float64 `json:"left_dir_z"`
	LeftPupil   *float64 `json:"left_pupil"`

	RightOriginX *float64 `json:"right_origin_x"`
	RightOriginY *float64 `json:"right_origin_y"`
	RightOriginZ *float64 `json:"right_origin_z"`
	RightDirX    *float64 `json:"right_dir_x"`
	RightDirY    *float64 `json:"right_dir_y"`
	RightDirZ    *float64 `json:"right_dir_z"`
	RightPupil   *float64 `json:"right_pupil"`
}

// ImuRecord is one full-fidelity inertial sample.
type ImuRecord struct {
	DeviceTS *float64 `json:"device_ts"`
	LocalTS  float64  `json:"local_ts"`

	AccelX *float64 `json:"accel_x"`
	AccelY *float64 `json:"accel_y"`
	AccelZ *float64 `json:"accel_z"`
	GyroX  *float64 `json:"gyro_x"`
	GyroY  *float64 `json:"gyro_y"`
	GyroZ  *float64 `json:"gyro_z"`
	MagX   *float64 `json:"mag_x"`
	MagY   *float64 `json:"mag_y"`
	MagZ   *float64 `json:"mag_z"`
}

// EventRecord stores a discrete device event with its payload verbatim.
type EventRecord struct {
	DeviceTS *float64       `json:"device_ts"`
	LocalTS  float64        `json:"local_ts"`
	Payload  map[string]any `json:"data"`
}

// SyncRecord stores a sync-port signal with its payload verbatim.
type SyncRecord struct {
	DeviceTS *float64       `json:"device_ts"`
	LocalTS  float64        `json:"local_ts"`
	Payload  map[string]any `json:"data"`
}

// RecordingMeta is the device identity snapshot taken at stream-start and
// written into every export preamble.
type RecordingMeta struct {
	Serial   string  `json:"serial"`
	Firmware string  `json:"firmware"`
	Battery  float64 `json:"battery"`
	Charging bool    `json:"charging"`
	GazeFreq int     `json:"gaze_freq"`
}

// Recording bundles the full-fidelity archives of one streaming session for
// export. Archives are snapshots: receivers have fully quiesced before a
// Recording is built.
type Recording struct {
	ID        string
	Meta      RecordingMeta
	StartedAt time.Time
	StoppedAt time.Time
	Recovered bool

	Gaze   []GazeRecord
	Imu    []ImuRecord
	Events []EventRecord
	Syncs  []SyncRecord
}

// Samples returns the archive length for the given signal.
func (r *Recording) Samples(sig Signal) int {
	switch sig {
	case SignalGaze:
		return len(r.Gaze)
	case SignalImu:
		return len(r.Imu)
	case SignalEvent:
		return len(r.Events)
	case SignalSync:
		return len(r.Syncs)
	}
	return 0
}
