package upload

import (
	"context"
	"log/slog"
	"time"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// retryUpstream runs fn up to attempts times with exponential backoff.
// It is used only around blob-store and metadata-store I/O, where
// transient failures (network, throttling) are expected; domain errors
// never pass through it.
func retryUpstream(ctx context.Context, attempts int, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := retryBaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == attempts || ctx.Err() != nil {
			break
		}

		slog.Warn("upstream operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return err
}
