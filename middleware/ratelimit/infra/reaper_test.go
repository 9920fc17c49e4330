package infra

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"navi-gateway/middleware/ratelimit/domain"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingSweeper struct {
	calls atomic.Int64
	panic bool
}

func (s *countingSweeper) Sweep(time.Time, time.Duration) int {
	s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	return 0
}

func TestReaper_PassEvictsIdleKeysRegardlessOfWindow(t *testing.T) {
	window := NewSlidingWindow()
	bucket := NewTokenBucket()

	// janelas bem diferentes; todas ociosas há mais que o horizonte
	window.IsAllowed("a:login", 5, time.Minute, t0)
	window.IsAllowed("b:default", 60, 30*time.Minute, t0)
	bucket.Consume("c:default", 10, 1, t0)

	r := NewReaper(
		[]domain.Sweeper{window, bucket},
		WithReapHorizon(time.Hour),
		WithReapClock(func() time.Time { return t0.Add(time.Hour + time.Minute) }),
		WithReapLogger(quietLogger),
	)

	removed, err := r.Pass()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 keys removed, got %d", removed)
	}
	if window.Len() != 0 || bucket.Len() != 0 {
		t.Fatalf("expected all idle state evicted, window=%d bucket=%d", window.Len(), bucket.Len())
	}
}

func TestReaper_PassKeepsSweepingAfterPanic(t *testing.T) {
	bad := &countingSweeper{panic: true}
	good := &countingSweeper{}

	r := NewReaper([]domain.Sweeper{bad, good}, WithReapLogger(quietLogger))

	if _, err := r.Pass(); err == nil {
		t.Fatalf("expected panic to be reported as error")
	}
	if good.calls.Load() != 1 {
		t.Fatalf("expected the next target to still be swept")
	}
}

func TestReaper_RunSurvivesFailuresAndStopsOnCancel(t *testing.T) {
	bad := &countingSweeper{panic: true}

	r := NewReaper(
		[]domain.Sweeper{bad},
		WithReapInterval(time.Hour),
		WithReapBackoff(time.Millisecond),
		WithReapLogger(quietLogger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx)

	deadline := time.After(2 * time.Second)
	for bad.calls.Load() < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("expected reaper to keep running after failures, passes=%d", bad.calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected reaper to stop promptly after cancel")
	}
}

func TestReaper_CancelInterruptsLongSleep(t *testing.T) {
	good := &countingSweeper{}
	r := NewReaper([]domain.Sweeper{good}, WithReapInterval(time.Hour), WithReapLogger(quietLogger))

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx)

	// espera a primeira passada e cancela no meio do sleep de 1h
	deadline := time.After(time.Second)
	for good.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected an immediate first pass")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected cancel to interrupt the interval sleep")
	}
}
