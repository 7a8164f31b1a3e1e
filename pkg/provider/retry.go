package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Retry policy for transient provider errors.
const (
	retryBaseInterval = 500 * time.Millisecond
	retryMultiplier   = 1.5
	retryMaxInterval  = 30 * time.Second

	// RetryMaxAttempts is the total number of tries per operation.
	RetryMaxAttempts = 5
)

// retryAdapter decorates an Adapter with exponential backoff plus jitter
// on transient errors. Permanent and conflict errors surface immediately.
type retryAdapter struct {
	Adapter
	logger       *slog.Logger
	maxAttempts  int
	baseInterval time.Duration
}

// WithRetry wraps an adapter so every operation retries transient
// failures (rate limits, unreachable, 5xx) with exponential backoff.
// A Retry-After hint from the provider overrides the computed interval.
func WithRetry(a Adapter, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryAdapter{
		Adapter:      a,
		logger:       logger,
		maxAttempts:  RetryMaxAttempts,
		baseInterval: retryBaseInterval,
	}
}

func (a *retryAdapter) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.baseInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (a *retryAdapter) do(ctx context.Context, op string, fn func() error) error {
	bo := a.newBackOff()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if Classify(err) != ClassTransient || attempt >= a.maxAttempts {
			return err
		}

		wait := bo.NextBackOff()
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}

		a.logger.Warn("transient provider error, retrying",
			slog.String("provider", a.Name()),
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (a *retryAdapter) Init(ctx context.Context) error {
	return a.do(ctx, "init", func() error { return a.Adapter.Init(ctx) })
}

func (a *retryAdapter) ListRecords(ctx context.Context, filter *ListFilter) ([]record.ProviderRecord, error) {
	var out []record.ProviderRecord
	err := a.do(ctx, "list", func() error {
		var listErr error
		out, listErr = a.Adapter.ListRecords(ctx, filter)
		return listErr
	})
	return out, err
}

func (a *retryAdapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	var out record.ProviderRecord
	err := a.do(ctx, "create", func() error {
		var opErr error
		out, opErr = a.Adapter.CreateRecord(ctx, r)
		return opErr
	})
	return out, err
}

func (a *retryAdapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	var out record.ProviderRecord
	err := a.do(ctx, "update", func() error {
		var opErr error
		out, opErr = a.Adapter.UpdateRecord(ctx, externalID, r)
		return opErr
	})
	return out, err
}

func (a *retryAdapter) DeleteRecord(ctx context.Context, externalID string) error {
	return a.do(ctx, "delete", func() error { return a.Adapter.DeleteRecord(ctx, externalID) })
}
