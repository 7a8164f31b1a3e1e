// Package source defines hostname sources and the aggregator that merges
// their snapshots into a single desired-state set.
//
// A hostname source watches or polls an upstream system (Traefik, Docker
// labels, a static file) and reports the complete set of records it wants
// to exist. Sources always return full snapshots, never diffs; the engine
// treats consecutive identical snapshots as no-ops.
//
// Example usage:
//
//	registry := source.NewRegistry(logger)
//	registry.Register(traefik.New(cfg))
//
//	agg := source.NewAggregator(registry, source.WithLogger(logger))
//	result, err := agg.Aggregate(ctx, overrides)
//	for _, d := range result.Records {
//	    log.Printf("desired: %s %s -> %s", d.Type, d.Name, d.Content)
//	}
package source

import (
	"context"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Source produces snapshots of desired records from an upstream system.
//
// Implementations should:
//   - Be safe for concurrent use
//   - Return the complete desired set on every call, not a diff
//   - Return an empty slice (not an error) when nothing is desired
type Source interface {
	// Name returns the source identifier (e.g. "traefik", "docker").
	// Used for logging, metrics, and conflict attribution.
	Name() string

	// Snapshot returns every record this source currently wants to exist.
	Snapshot(ctx context.Context) ([]DesiredRecord, error)
}

// DesiredRecord is a record a hostname source wants to exist.
type DesiredRecord struct {
	record.Record

	// ProviderID routes the record to a specific provider instance.
	// Empty means "use base-domain routing or the default provider".
	ProviderID string

	// SourceName identifies which source produced this record.
	SourceName string

	// Origin is an optional upstream identifier: a Traefik router name,
	// a container name, or a file path. May be empty.
	Origin string
}

// Key returns the deduplication key: records from different sources that
// share a key must agree on content or the key is conflicted.
func (d DesiredRecord) Key() DesiredKey {
	return DesiredKey{
		ProviderID: d.ProviderID,
		Type:       d.Type,
		Name:       record.NormalizeName(d.Name),
	}
}

// DesiredKey identifies a desired record within one provider's namespace.
// An empty ProviderID is a distinct namespace (the default provider).
type DesiredKey struct {
	ProviderID string
	Type       record.Type
	Name       string
}

func (k DesiredKey) String() string {
	p := k.ProviderID
	if p == "" {
		p = "default"
	}
	return p + "/" + string(k.Type) + " " + k.Name
}

// Override adjusts a single hostname before deduplication. Nil fields
// leave the source-provided value untouched. Overrides are keyed by
// normalized hostname and applied to every desired record for that name.
type Override struct {
	RecordType *record.Type
	Content    *string
	TTL        *int
	Proxied    *bool
	ProviderID *string
}
