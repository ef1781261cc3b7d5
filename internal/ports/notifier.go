package ports

import "github.com/lzukanovic/tobii-mvp/internal/domain"

// RecordingNotice announces a completed export to interactive observers.
type RecordingNotice struct {
	ID          string   `json:"id"`
	Files       []string `json:"files"`
	GazeSamples int      `json:"gaze_samples"`
	ImuSamples  int      `json:"imu_samples"`
	StartTime   string   `json:"start_time"`
}

// Notifier is the push side of the transport boundary: status snapshots on
// every state change plus completed-recording announcements. Implementations
// must not block; the acquisition service calls them inline.
type Notifier interface {
	StatusChanged(status domain.DeviceStatus)
	RecordingSaved(notice RecordingNotice)
}

// NopNotifier satisfies Notifier for embedders that poll status instead.
type NopNotifier struct{}

func (NopNotifier) StatusChanged(domain.DeviceStatus) {}
func (NopNotifier) RecordingSaved(RecordingNotice)    {}

var _ Notifier = NopNotifier{}
