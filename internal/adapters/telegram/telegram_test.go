package telegram

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitReturnsCallResult(t *testing.T) {
	t.Parallel()
	want := errors.New("api said no")
	got := await(context.Background(), func() error { return want })
	if !errors.Is(got, want) {
		t.Fatalf("err = %v, want %v", got, want)
	}
	if err := await(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestAwaitHonorsContextDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := await(ctx, func() error {
		<-release // simulates a hung transport call
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("await blocked for %s despite expired context", elapsed)
	}
}

func TestAwaitHonorsCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	release := make(chan struct{})
	defer close(release)

	err := await(ctx, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}
