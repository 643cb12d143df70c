package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/observability"
)

// Default polling budget: one read per second for about a minute.
const (
	DefaultFetchInterval    = time.Second
	DefaultFetchMaxAttempts = 60
)

// Fetcher reads objects that become visible only some time after they were written.
type Fetcher struct {
	objects     client.ObjectStore
	interval    time.Duration
	maxAttempts int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewFetcher creates a fetcher. Non-positive values select the defaults.
func NewFetcher(objects client.ObjectStore, interval time.Duration, maxAttempts int, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	if interval <= 0 {
		interval = DefaultFetchInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultFetchMaxAttempts
	}
	return &Fetcher{
		objects:     objects,
		interval:    interval,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      logging.OrDefault(logger),
	}
}

// Fetch opens key, retrying while it is not found. Any other error aborts at
// once. After the last attempt the not-found storage failure is returned.
func (f *Fetcher) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	var (
		body     io.ReadCloser
		attempts int
	)
	operation := func() error {
		attempts++
		f.metrics.RecordFetchAttempt(ctx)
		rc, err := f.objects.Get(ctx, key)
		if err == nil {
			body = rc
			return nil
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.interval), uint64(f.maxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		f.logger.Debug("object not visible yet", "key", key, "attempt", attempts, "retryIn", wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Storage("fetch", key,
				fmt.Errorf("not visible after %d attempts: %w", attempts, err))
		}
		return nil, err
	}
	return body, nil
}

// Attempts returns the configured attempt budget.
func (f *Fetcher) Attempts() int {
	return f.maxAttempts
}
