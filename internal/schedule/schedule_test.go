package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"postbot/pkg/logx"
)

func newTestRegistry() *Registry {
	return New(Config{PublishTimeout: time.Second}, logx.Nop())
}

func waitSignal(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("published payload %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish of %q", want)
	}
}

func TestScheduleFires(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	fired := make(chan string, 1)
	at := time.Now().Add(20 * time.Millisecond)
	got := r.Schedule(1, at, func(ctx context.Context) error {
		fired <- "payload"
		return nil
	})
	if !got.Equal(at) {
		t.Fatalf("Schedule returned %v, want %v", got, at)
	}

	waitSignal(t, fired, "payload")

	// fired job leaves the registry
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := r.Peek(1); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job still registered after firing")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulePastTargetFiresImmediately(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	fired := make(chan string, 1)
	r.Schedule(1, time.Now().Add(-time.Hour), func(ctx context.Context) error {
		fired <- "late"
		return nil
	})
	waitSignal(t, fired, "late")
}

func TestScheduleSupersedes(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	fired := make(chan string, 2)
	r.Schedule(1, time.Now().Add(30*time.Millisecond), func(ctx context.Context) error {
		fired <- "first"
		return nil
	})
	r.Schedule(1, time.Now().Add(40*time.Millisecond), func(ctx context.Context) error {
		fired <- "second"
		return nil
	})

	waitSignal(t, fired, "second")

	select {
	case got := <-fired:
		t.Fatalf("superseded job fired with %q", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	if r.Cancel(1) {
		t.Fatal("Cancel with no pending job returned true")
	}

	fired := make(chan string, 1)
	r.Schedule(1, time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		fired <- "x"
		return nil
	})
	if !r.Cancel(1) {
		t.Fatal("Cancel of pending job returned false")
	}
	if _, ok := r.Peek(1); ok {
		t.Fatal("job still visible after cancel")
	}

	select {
	case <-fired:
		t.Fatal("cancelled job fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPeek(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	if _, ok := r.Peek(9); ok {
		t.Fatal("Peek reported a job before scheduling")
	}
	at := time.Now().Add(time.Hour)
	r.Schedule(9, at, func(ctx context.Context) error { return nil })

	got, ok := r.Peek(9)
	if !ok || !got.Equal(at) {
		t.Fatalf("Peek = (%v, %v), want (%v, true)", got, ok, at)
	}
}

func TestPublishFailureRetiresJob(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	// The publish closure owns failure reporting; the registry's job is
	// to run it once and retire the entry either way.
	wantErr := errors.New("telegram unreachable")
	done := make(chan struct{})
	r.Schedule(3, time.Now().Add(10*time.Millisecond), func(ctx context.Context) error {
		defer close(done)
		return wantErr
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish closure never ran")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := r.Peek(3); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("failed job still registered (no automatic retry allowed)")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotClosureIsolation(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	defer r.Stop(context.Background())

	payload := "as scheduled"
	fired := make(chan string, 1)
	snapshot := payload // value copy at schedule time
	r.Schedule(5, time.Now().Add(30*time.Millisecond), func(ctx context.Context) error {
		fired <- snapshot
		return nil
	})
	payload = "edited afterwards"
	_ = payload

	waitSignal(t, fired, "as scheduled")
}

func TestStopCancelsPending(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	fired := make(chan string, 1)
	r.Schedule(1, time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		fired <- "x"
		return nil
	})
	r.Stop(context.Background())

	select {
	case <-fired:
		t.Fatal("job fired after Stop")
	case <-time.After(150 * time.Millisecond):
	}
}
