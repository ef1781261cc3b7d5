package acquisition

import (
	"context"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// runReceiver drains one native stream until the streaming flag drops or the
// task is cancelled. The poll timeout bounds each wait so the flag
// transition is observed within one poll interval even on a silent stream.
func (s *Service) runReceiver(ctx context.Context, sig domain.Signal, sub ports.Subscription) {
	poll := s.pol.PollTimeout
	if poll <= 0 {
		poll = time.Second
	}

	var counter uint64
	for {
		if !s.streaming.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub.C:
			if !ok {
				return
			}
			s.ingest(sig, raw, &counter)
		case <-time.After(poll):
		}
	}
}

// ingest normalizes one raw sample, archives it at full fidelity, and
// forwards a decimated envelope to the live queue. Malformed samples are
// counted and skipped.
func (s *Service) ingest(sig domain.Signal, raw domain.RawSample, counter *uint64) {
	deviceTS, fields := domain.Normalize(raw)
	localTS := float64(time.Now().UnixNano()) / 1e9

	var env domain.Envelope
	switch sig {
	case domain.SignalGaze:
		rec, err := domain.NewGazeRecord(deviceTS, localTS, fields)
		if err != nil {
			s.obs.RecordMalformed(sig, err)
			return
		}
		s.gaze.Append(rec)
		s.journalAppend(sig, rec)
		s.obs.IncCounter("tobii_gaze_samples_total", 1)
		if !s.decimate(counter, s.gazeDec.Load()) {
			return
		}
		env = domain.GazeEnvelope(rec)

	case domain.SignalImu:
		rec, err := domain.NewImuRecord(deviceTS, localTS, fields)
		if err != nil {
			s.obs.RecordMalformed(sig, err)
			return
		}
		s.imu.Append(rec)
		s.journalAppend(sig, rec)
		s.obs.IncCounter("tobii_imu_samples_total", 1)
		if !s.decimate(counter, s.imuDec.Load()) {
			return
		}
		env = domain.ImuEnvelope(rec)

	case domain.SignalEvent:
		rec := domain.NewEventRecord(deviceTS, localTS, fields)
		s.events.Append(rec)
		s.journalAppend(sig, rec)
		s.obs.IncCounter("tobii_event_samples_total", 1)
		env = domain.EventEnvelope(rec)

	case domain.SignalSync:
		rec := domain.NewSyncRecord(deviceTS, localTS, fields)
		s.syncs.Append(rec)
		s.journalAppend(sig, rec)
		s.obs.IncCounter("tobii_sync_samples_total", 1)
		env = domain.SyncEnvelope(rec)

	default:
		return
	}

	if s.queue.Enqueue(env) {
		s.obs.IncCounter("tobii_live_envelopes_total", 1)
	} else {
		s.obs.IncCounter("tobii_live_dropped_total", 1)
	}
	s.obs.SetGauge("tobii_live_queue_length", float64(s.queue.Len()))
}

// decimate advances the per-receiver counter and reports whether this sample
// is forwarded. The counter is incremented before the modulo, so a factor of
// N yields floor(total/N) envelopes. It never resets mid-stream; changing
// the factor takes effect on the next sample.
func (s *Service) decimate(counter *uint64, factor int64) bool {
	*counter++
	if factor <= 1 {
		return true
	}
	return *counter%uint64(factor) == 0
}

func (s *Service) journalAppend(sig domain.Signal, record any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(sig, record); err != nil {
		if s.journalDown.CompareAndSwap(false, true) {
			s.obs.LogError("journal_append_failed", err, ports.Field{Key: "signal", Value: sig})
		}
	}
}
