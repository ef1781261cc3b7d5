package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the reduced-field, tagged record sent to interactive
// observers. It carries only what the live view renders; the archives stay
// the authoritative record.
type Envelope struct {
	Type Signal  `json:"type"`
	TS   float64 `json:"ts"`

	// gaze
	Gaze2DX    *float64 `json:"gaze2d_x,omitempty"`
	Gaze2DY    *float64 `json:"gaze2d_y,omitempty"`
	LeftPupil  *float64 `json:"left_pupil,omitempty"`
	RightPupil *float64 `json:"right_pupil,omitempty"`

	// imu
	AccelX *float64 `json:"accel_x,omitempty"`
	AccelY *float64 `json:"accel_y,omitempty"`
	AccelZ *float64 `json:"accel_z,omitempty"`
	GyroX  *float64 `json:"gyro_x,omitempty"`
	GyroY  *float64 `json:"gyro_y,omitempty"`
	GyroZ  *float64 `json:"gyro_z,omitempty"`

	// event / sync
	Data string `json:"data,omitempty"`
}

// GazeEnvelope reduces a gaze record to the live-view subset.
func GazeEnvelope(rec GazeRecord) Envelope {
	return Envelope{
		Type:       SignalGaze,
		TS:         rec.LocalTS,
		Gaze2DX:    rec.Gaze2DX,
		Gaze2DY:    rec.Gaze2DY,
		LeftPupil:  rec.LeftPupil,
		RightPupil: rec.RightPupil,
	}
}

// ImuEnvelope reduces an inertial record to the live-view subset.
func ImuEnvelope(rec ImuRecord) Envelope {
	return Envelope{
		Type:   SignalImu,
		TS:     rec.LocalTS,
		AccelX: rec.AccelX,
		AccelY: rec.AccelY,
		AccelZ: rec.AccelZ,
		GyroX:  rec.GyroX,
		GyroY:  rec.GyroY,
		GyroZ:  rec.GyroZ,
	}
}

// EventEnvelope forwards a device event; events are never decimated.
func EventEnvelope(rec EventRecord) Envelope {
	return Envelope{Type: SignalEvent, TS: rec.LocalTS, Data: encodePayload(rec.Payload)}
}

// SyncEnvelope forwards a sync-port signal; sync samples are never decimated.
func SyncEnvelope(rec SyncRecord) Envelope {
	return Envelope{Type: SignalSync, TS: rec.LocalTS, Data: encodePayload(rec.Payload)}
}

func encodePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}
