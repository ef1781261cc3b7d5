// Package acquisition owns the device session state machine: connect and
// frequency negotiation, the stream lifecycle with its per-signal receivers,
// calibration, live-view decimation, and export on stop.
package acquisition

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lzukanovic/tobii-mvp/internal/bridge"
	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

const (
	// calibrateTimeout bounds the device calibration call, which the
	// firmware may hold for tens of seconds while the wearer fixates.
	calibrateTimeout = 60 * time.Second

	// receiverDrainTimeout bounds the wait for receivers to exit at stop.
	receiverDrainTimeout = 5 * time.Second

	DefaultGazeDecimation = 2
	DefaultImuDecimation  = 5
)

// Journal persists samples as they are archived so a crashed session can be
// recovered on the next start.
type Journal interface {
	Begin(id string, meta domain.RecordingMeta, startedAt time.Time) error
	Append(sig domain.Signal, record any) error
	End() error
	Discard() error
}

// Service is the acquisition state machine. All control operations funnel
// through the execution bridge, so at most one protocol call is in flight;
// the public methods themselves are additionally serialized by the control
// mutex so state transitions stay atomic.
type Service struct {
	dialer   ports.Dialer
	br       *bridge.Bridge
	queue    ports.LiveQueue
	obs      ports.Observability
	pol      ports.Policy
	exporter ports.Exporter
	notifier ports.Notifier
	journal  Journal

	mu      sync.Mutex
	session ports.Session

	streaming   atomic.Bool
	gazeDec     atomic.Int64
	imuDec      atomic.Int64
	journalDown atomic.Bool

	statusMu sync.Mutex
	status   domain.DeviceStatus

	gaze   archive[domain.GazeRecord]
	imu    archive[domain.ImuRecord]
	events archive[domain.EventRecord]
	syncs  archive[domain.SyncRecord]

	recID     string
	meta      domain.RecordingMeta
	startedAt time.Time

	receivers []*bridge.Task
	subs      map[domain.Signal]ports.Subscription
}

// Option configures optional service collaborators.
type Option func(*Service)

func WithExporter(e ports.Exporter) Option { return func(s *Service) { s.exporter = e } }
func WithNotifier(n ports.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithJournal(j Journal) Option         { return func(s *Service) { s.journal = j } }

func New(dialer ports.Dialer, br *bridge.Bridge, queue ports.LiveQueue, obs ports.Observability, pol ports.Policy, opts ...Option) *Service {
	s := &Service{
		dialer:   dialer,
		br:       br,
		queue:    queue,
		obs:      obs,
		pol:      pol,
		notifier: ports.NopNotifier{},
	}
	if pol.GazeDecimation >= 1 {
		s.gazeDec.Store(int64(pol.GazeDecimation))
	} else {
		s.gazeDec.Store(DefaultGazeDecimation)
	}
	if pol.ImuDecimation >= 1 {
		s.imuDec.Store(int64(pol.ImuDecimation))
	} else {
		s.imuDec.Store(DefaultImuDecimation)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) submitTimeout() time.Duration {
	if s.pol.SubmitTimeout > 0 {
		return s.pol.SubmitTimeout
	}
	return bridge.DefaultSubmitTimeout
}

// Status returns a snapshot. While streaming, the sample counts reflect the
// live archives rather than the last control-plane update.
func (s *Service) Status() domain.DeviceStatus {
	s.statusMu.Lock()
	st := s.status
	s.statusMu.Unlock()
	if s.streaming.Load() {
		st.GazeSamples = s.gaze.Len()
		st.ImuSamples = s.imu.Len()
	}
	return st
}

func (s *Service) updateStatus(mutate func(*domain.DeviceStatus)) {
	s.statusMu.Lock()
	mutate(&s.status)
	st := s.status
	s.statusMu.Unlock()
	s.notifier.StatusChanged(st)
}

// Decimation returns the current live-view decimation factors.
func (s *Service) Decimation() (gaze, imu int) {
	return int(s.gazeDec.Load()), int(s.imuDec.Load())
}

// UpdateDecimation changes the live-view decimation factors. Values below 1
// leave the current factor untouched. Takes effect on the next sample; the
// running counters are not reset.
func (s *Service) UpdateDecimation(gaze, imu int) {
	if gaze >= 1 {
		s.gazeDec.Store(int64(gaze))
	}
	if imu >= 1 {
		s.imuDec.Store(int64(imu))
	}
	s.obs.LogInfo("decimation_updated",
		ports.Field{Key: "gaze", Value: s.gazeDec.Load()},
		ports.Field{Key: "imu", Value: s.imuDec.Load()})
}

// Connect dials the glasses, reads the identity and battery state, and
// negotiates the gaze sampling rate: the desired rate when offered,
// otherwise the highest offered rate with the status flagged as degraded.
func (s *Service) Connect(ctx context.Context, hostname string, desiredHz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return ErrAlreadyConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		sess      ports.Session
		st        domain.DeviceStatus
		negotiate = desiredHz
	)
	err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
		var err error
		sess, err = s.dialer.Dial(ctx, hostname)
		if err != nil {
			return protocolErr("dial", err)
		}
		fail := func(op string, err error) error {
			_ = sess.Close(ctx)
			return protocolErr(op, err)
		}

		st.Serial, st.Firmware, err = sess.Identity(ctx)
		if err != nil {
			return fail("identity", err)
		}
		level, err := sess.BatteryLevel(ctx)
		if err != nil {
			return fail("battery", err)
		}
		st.Battery = level * 100
		st.Charging, err = sess.BatteryCharging(ctx)
		if err != nil {
			return fail("battery", err)
		}

		offered, err := sess.GazeFrequencies(ctx)
		if err != nil {
			return fail("frequencies", err)
		}
		hz, degraded := chooseFrequency(offered, negotiate)
		if hz > 0 {
			if err := sess.SetGazeFrequency(ctx, hz); err != nil {
				return fail("set frequency", err)
			}
		}
		st.GazeFreq = hz
		st.RateDegraded = degraded
		return nil
	})
	if err != nil {
		s.updateStatus(func(cur *domain.DeviceStatus) {
			cur.Error = err.Error()
		})
		return err
	}

	s.session = sess
	s.updateStatus(func(cur *domain.DeviceStatus) {
		*cur = st
		cur.Connected = true
	})
	s.obs.SetGauge("tobii_battery_percent", st.Battery)
	s.obs.LogInfo("device_connected",
		ports.Field{Key: "serial", Value: st.Serial},
		ports.Field{Key: "gaze_hz", Value: st.GazeFreq},
		ports.Field{Key: "rate_degraded", Value: st.RateDegraded})
	return nil
}

// chooseFrequency picks the negotiated rate. An empty offer yields zero and
// is not treated as degraded; the firmware simply keeps its default.
func chooseFrequency(offered []int, desired int) (hz int, degraded bool) {
	if len(offered) == 0 {
		return 0, false
	}
	for _, f := range offered {
		if f == desired {
			return desired, false
		}
	}
	sorted := make([]int, len(offered))
	copy(sorted, offered)
	sort.Ints(sorted)
	return sorted[len(sorted)-1], desired > 0
}

// Disconnect ends the session. An active stream is stopped first; the
// status is reset even when the protocol teardown fails.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNotConnected
	}

	var firstErr error
	if s.streaming.Load() {
		if err := s.stopStreamingLocked(); err != nil {
			firstErr = err
			s.obs.LogError("disconnect_stop_failed", err)
		}
	}

	sess := s.session
	if err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
		return sess.Close(ctx)
	}); err != nil {
		s.obs.LogError("disconnect_close_failed", err)
	}

	s.session = nil
	s.updateStatus(func(cur *domain.DeviceStatus) {
		cur.Reset()
	})
	s.obs.SetGauge("tobii_streaming", 0)
	s.obs.LogInfo("device_disconnected")
	return firstErr
}

// StartStreaming opens one subscription per signal, launches the receivers,
// and tells the device to start its streams. Decimation factors below 1
// keep their current value. The archives and the live queue are cleared
// first; the recording identity is minted here. The streaming flag is
// raised before any receiver starts so no early sample sees a stale flag;
// every failure path rolls the flag and the subscriptions back.
func (s *Service) StartStreaming(ctx context.Context, gazeDec, imuDec int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNotConnected
	}
	if s.streaming.Load() {
		return ErrAlreadyStreaming
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if gazeDec >= 1 {
		s.gazeDec.Store(int64(gazeDec))
	}
	if imuDec >= 1 {
		s.imuDec.Store(int64(imuDec))
	}

	s.gaze.Clear()
	s.imu.Clear()
	s.events.Clear()
	s.syncs.Clear()
	s.queue.Clear()

	s.recID = uuid.NewString()
	s.startedAt = time.Now()
	st := s.Status()
	s.meta = domain.RecordingMeta{
		Serial:   st.Serial,
		Firmware: st.Firmware,
		Battery:  st.Battery,
		Charging: st.Charging,
		GazeFreq: st.GazeFreq,
	}
	if s.journal != nil {
		s.journalDown.Store(false)
		if err := s.journal.Begin(s.recID, s.meta, s.startedAt); err != nil {
			s.obs.LogError("journal_begin_failed", err)
			s.journalDown.Store(true)
		}
	}

	s.streaming.Store(true)
	s.subs = make(map[domain.Signal]ports.Subscription, len(domain.Signals))

	sess := s.session
	for _, sig := range domain.Signals {
		sig := sig
		var sub ports.Subscription
		err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
			var err error
			sub, err = sess.Subscribe(ctx, sig)
			return err
		})
		if err != nil {
			return s.failStartLocked(protocolErr("subscribe "+string(sig), err))
		}
		s.subs[sig] = sub
	}

	if err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
		return sess.StartStreams(ctx)
	}); err != nil {
		return s.failStartLocked(protocolErr("start streams", err))
	}

	s.receivers = s.receivers[:0]
	for sig, sub := range s.subs {
		sig, sub := sig, sub
		s.receivers = append(s.receivers, s.br.Go("receiver-"+string(sig), func(ctx context.Context) {
			s.runReceiver(ctx, sig, sub)
		}))
	}

	s.updateStatus(func(cur *domain.DeviceStatus) {
		cur.Streaming = true
		cur.GazeSamples = 0
		cur.ImuSamples = 0
		cur.Error = ""
	})
	s.obs.SetGauge("tobii_streaming", 1)
	s.obs.LogInfo("streaming_started", ports.Field{Key: "recording", Value: s.recID})
	return nil
}

func (s *Service) failStartLocked(err error) error {
	s.rollbackStartLocked()
	s.updateStatus(func(cur *domain.DeviceStatus) {
		cur.Error = err.Error()
	})
	return err
}

func (s *Service) rollbackStartLocked() {
	s.streaming.Store(false)
	for sig, sub := range s.subs {
		sig, sub := sig, sub
		if err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
			return sub.Unsubscribe(ctx)
		}); err != nil {
			s.obs.LogError("rollback_unsubscribe_failed", err, ports.Field{Key: "signal", Value: sig})
		}
	}
	s.subs = nil
	if s.journal != nil {
		if err := s.journal.Discard(); err != nil {
			s.obs.LogError("journal_discard_failed", err)
		}
	}
}

// StopStreaming quiesces the receivers, tears down the device streams, and
// exports the archives. Calling it when no stream is active is a no-op, so
// a stop can always be retried without exporting twice.
func (s *Service) StopStreaming(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming.Load() {
		return nil
	}
	return s.stopStreamingLocked()
}

func (s *Service) stopStreamingLocked() error {
	s.streaming.Store(false)

	for _, task := range s.receivers {
		task.Cancel()
	}
	for _, task := range s.receivers {
		if !task.Wait(receiverDrainTimeout) {
			s.obs.LogError("receiver_drain_timeout", errors.New("receiver did not exit within drain timeout"))
		}
	}
	s.receivers = nil

	sess := s.session
	if sess != nil {
		if err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
			return sess.StopStreams(ctx)
		}); err != nil {
			s.obs.LogError("stop_streams_failed", err)
		}
	}
	for sig, sub := range s.subs {
		sig, sub := sig, sub
		if err := s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
			return sub.Unsubscribe(ctx)
		}); err != nil {
			s.obs.LogError("unsubscribe_failed", err, ports.Field{Key: "signal", Value: sig})
		}
	}
	s.subs = nil

	rec := &domain.Recording{
		ID:        s.recID,
		Meta:      s.meta,
		StartedAt: s.startedAt,
		StoppedAt: time.Now(),
		Gaze:      s.gaze.Snapshot(),
		Imu:       s.imu.Snapshot(),
		Events:    s.events.Snapshot(),
		Syncs:     s.syncs.Snapshot(),
	}

	s.updateStatus(func(cur *domain.DeviceStatus) {
		cur.Streaming = false
		cur.GazeSamples = len(rec.Gaze)
		cur.ImuSamples = len(rec.Imu)
	})
	s.obs.SetGauge("tobii_streaming", 0)

	exportErr := s.export(rec)

	if s.journal != nil {
		if err := s.journal.End(); err != nil {
			s.obs.LogError("journal_end_failed", err)
		}
	}

	s.obs.LogInfo("streaming_stopped",
		ports.Field{Key: "recording", Value: rec.ID},
		ports.Field{Key: "gaze", Value: len(rec.Gaze)},
		ports.Field{Key: "imu", Value: len(rec.Imu)})
	return exportErr
}

func (s *Service) export(rec *domain.Recording) error {
	if s.exporter == nil {
		return nil
	}
	total := len(rec.Gaze) + len(rec.Imu) + len(rec.Events) + len(rec.Syncs)
	if total == 0 {
		return nil
	}

	start := time.Now()
	files, err := s.exporter.Export(rec)
	s.obs.ObserveLatency("tobii_export_duration_seconds", time.Since(start).Seconds())
	if err != nil {
		s.obs.LogError("export_failed", err, ports.Field{Key: "recording", Value: rec.ID})
		return err
	}

	s.obs.IncCounter("tobii_recordings_total", 1)
	s.notifier.RecordingSaved(ports.RecordingNotice{
		ID:          rec.ID,
		Files:       files,
		GazeSamples: len(rec.Gaze),
		ImuSamples:  len(rec.Imu),
		StartTime:   rec.StartedAt.UTC().Format(time.RFC3339),
	})
	return nil
}

// Calibrate runs the device calibration procedure. When no stream is active
// the rudimentary API needs a keep-alive scope for the duration of the
// call; the scope is released on every exit path. The calibrated flag
// follows the verdict, including a failed one.
func (s *Service) Calibrate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false, ErrNotConnected
	}

	sess := s.session
	needKeepAlive := !s.streaming.Load()

	var ok bool
	err := s.br.Submit(calibrateTimeout, func(ctx context.Context) error {
		if needKeepAlive {
			release, err := sess.KeepAlive(ctx)
			if err != nil {
				return protocolErr("keepalive", err)
			}
			defer release()
		}
		var err error
		ok, err = sess.Calibrate(ctx)
		if err != nil {
			return protocolErr("calibrate", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.updateStatus(func(cur *domain.DeviceStatus) {
		cur.Calibrated = ok
	})
	s.obs.LogInfo("calibration_finished", ports.Field{Key: "success", Value: ok})
	return ok, nil
}

// MarkEvent injects an annotation into the device's event stream so it
// comes back timestamped on the device clock and lands in the event
// archive like any other event.
func (s *Service) MarkEvent(ctx context.Context, tag string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNotConnected
	}
	if !s.streaming.Load() {
		return ErrNotStreaming
	}

	sess := s.session
	return s.br.Submit(s.submitTimeout(), func(ctx context.Context) error {
		return protocolErr("send event", sess.SendEvent(ctx, tag, payload))
	})
}

// Streaming reports whether a streaming session is active.
func (s *Service) Streaming() bool { return s.streaming.Load() }

// Connected reports whether a device session is open.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}
