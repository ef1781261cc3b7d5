package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

type stubObs struct{}

func (stubObs) LogInfo(string, ...ports.Field)            {}
func (stubObs) LogError(string, error, ...ports.Field)    {}
func (stubObs) LogCritical(string, error, ...ports.Field) {}
func (stubObs) IncCounter(string, float64)                {}
func (stubObs) SetGauge(string, float64)                  {}
func (stubObs) ObserveLatency(string, float64)            {}
func (stubObs) RecordMalformed(domain.Signal, error)      {}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(stubObs{})
	b.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func TestSubmitReturnsResult(t *testing.T) {
	b := newTestBridge(t)

	ran := false
	if err := b.Submit(time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ran {
		t.Fatalf("submitted unit did not run")
	}

	want := errors.New("device said no")
	err := b.Submit(time.Second, func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected submitted error to propagate, got %v", err)
	}
}

func TestSubmitSerializesCalls(t *testing.T) {
	b := newTestBridge(t)

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Submit(5*time.Second, func(ctx context.Context) error {
				n := inFlight.Add(1)
				if m := maxInFlight.Load(); n > m {
					maxInFlight.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Fatalf("expected exactly one protocol call in flight, saw %d", maxInFlight.Load())
	}
}

func TestSubmitTimeout(t *testing.T) {
	b := newTestBridge(t)

	ctxDone := make(chan struct{})
	err := b.Submit(20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(ctxDone)
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}

	select {
	case <-ctxDone:
	case <-time.After(time.Second):
		t.Fatalf("submitted unit never observed its deadline")
	}
}

func TestSubmitRecoversPanic(t *testing.T) {
	b := newTestBridge(t)

	err := b.Submit(time.Second, func(ctx context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}

	// The dispatcher must survive.
	if err := b.Submit(time.Second, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("dispatcher dead after panic: %v", err)
	}
}

func TestTaskCancel(t *testing.T) {
	b := newTestBridge(t)

	started := make(chan struct{})
	task := b.Go("spin", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	<-started
	task.Cancel()
	if !task.Wait(time.Second) {
		t.Fatalf("task did not exit after cancel")
	}
}

func TestTaskPanicIsIsolated(t *testing.T) {
	b := newTestBridge(t)

	task := b.Go("faulty", func(ctx context.Context) {
		panic("receiver fault")
	})
	if !task.Wait(time.Second) {
		t.Fatalf("panicking task never finished")
	}

	// Other work continues unaffected.
	if err := b.Submit(time.Second, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("bridge unhealthy after task panic: %v", err)
	}
}

func TestShutdownStopsTasksAndRejectsWork(t *testing.T) {
	b := New(stubObs{})
	b.Start()

	task := b.Go("spin", func(ctx context.Context) {
		<-ctx.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-task.Done():
	default:
		t.Fatalf("task still running after shutdown")
	}

	if err := b.Submit(time.Second, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected submit after shutdown to fail")
	}
}
