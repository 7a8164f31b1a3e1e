package provider

import (
	"context"

	"go.uber.org/ratelimit"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// throttledAdapter applies a client-side token-bucket rate limit to every
// provider API call. Each provider instance gets its own limiter so a
// chatty provider cannot starve the others.
type throttledAdapter struct {
	Adapter
	limiter ratelimit.Limiter
}

// Throttled wraps an adapter with a requests-per-second cap. rps <= 0
// returns the adapter unchanged.
func Throttled(a Adapter, rps int) Adapter {
	if rps <= 0 {
		return a
	}
	return &throttledAdapter{Adapter: a, limiter: ratelimit.New(rps)}
}

func (a *throttledAdapter) Init(ctx context.Context) error {
	a.limiter.Take()
	return a.Adapter.Init(ctx)
}

func (a *throttledAdapter) ListRecords(ctx context.Context, filter *ListFilter) ([]record.ProviderRecord, error) {
	a.limiter.Take()
	return a.Adapter.ListRecords(ctx, filter)
}

func (a *throttledAdapter) CreateRecord(ctx context.Context, r record.Record) (record.ProviderRecord, error) {
	a.limiter.Take()
	return a.Adapter.CreateRecord(ctx, r)
}

func (a *throttledAdapter) UpdateRecord(ctx context.Context, externalID string, r record.Record) (record.ProviderRecord, error) {
	a.limiter.Take()
	return a.Adapter.UpdateRecord(ctx, externalID, r)
}

func (a *throttledAdapter) DeleteRecord(ctx context.Context, externalID string) error {
	a.limiter.Take()
	return a.Adapter.DeleteRecord(ctx, externalID)
}
