package upload

import (
	"context"
	"errors"
	"testing"
)

func TestRetryUpstream_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retryUpstream(context.Background(), 3, "test op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryUpstream: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryUpstream_GivesUp(t *testing.T) {
	sentinel := errors.New("persistent")
	calls := 0
	err := retryUpstream(context.Background(), 3, "test op", func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryUpstream_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryUpstream(ctx, 5, "test op", func() error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 with cancelled context", calls)
	}
}
