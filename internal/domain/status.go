package domain

// DeviceStatus is a snapshot of the glasses connection as reported to
// clients. The acquisition service owns the mutable copy; callers only ever
// see value snapshots.
type DeviceStatus struct {
	Connected    bool    `json:"connected"`
	Serial       string  `json:"serial"`
	Firmware     string  `json:"firmware"`
	Battery      float64 `json:"battery"`
	Charging     bool    `json:"charging"`
	Streaming    bool    `json:"streaming"`
	Calibrated   bool    `json:"calibrated"`
	GazeFreq     int     `json:"gaze_freq"`
	RateDegraded bool    `json:"rate_degraded"`
	GazeSamples  int     `json:"gaze_samples"`
	ImuSamples   int     `json:"imu_samples"`
	Error        string  `json:"error"`
}

// Reset returns every field to its zero value. Used on disconnect; the
// status object itself survives for the life of the process.
func (s *DeviceStatus) Reset() {
	*s = DeviceStatus{}
}
