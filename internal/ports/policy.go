package ports

import "time"

// Policy fixes the timing and backpressure knobs of the acquisition
// pipeline. The live queue's on-full behavior is deliberately not a knob:
// drop-newest is the only policy compatible with lossless archival.
type Policy struct {
	// LiveQueueCap bounds the live-view queue.
	LiveQueueCap int `yaml:"live_queue_cap"`
	// GazeDecimation/ImuDecimation forward every Nth sample to the live view.
	GazeDecimation int `yaml:"gaze_decimation"`
	ImuDecimation  int `yaml:"imu_decimation"`
	// PollTimeout bounds each receiver's wait on its native stream so the
	// streaming-flag transition is observed promptly without data.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// IdleSleep is the consumer's backoff when the live queue is empty.
	IdleSleep time.Duration `yaml:"idle_sleep"`
	// SubmitTimeout bounds blocking control calls on the bridge.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}
