package source

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hashicorp/go-multierror"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Aggregator merges snapshots from every registered source into one
// deduplicated desired set. Records are canonicalized, per-hostname
// overrides are applied, and keys claimed with conflicting content are
// excluded while the rest of the set proceeds.
type Aggregator struct {
	registry *Registry
	logger   *slog.Logger
}

// AggregatorOption is a functional option for configuring the Aggregator.
type AggregatorOption func(*Aggregator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator creates an aggregator over the given registry.
func NewAggregator(registry *Registry, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of one aggregation pass.
type Result struct {
	// Records is the final desired set, sorted by (name, type) for
	// deterministic downstream planning.
	Records []DesiredRecord

	// Conflicts lists keys excluded because sources disagreed on content.
	Conflicts []*DuplicateDesiredError

	// Invalid counts records dropped during canonicalization.
	Invalid int

	// SourceErrors aggregates snapshot failures. A failing source is
	// skipped; its previously desired records simply do not appear,
	// which the reconciler handles through orphan grace windows.
	SourceErrors error
}

// Aggregate takes a snapshot from every source and merges them.
// Overrides are keyed by normalized hostname; only enabled overrides
// should be passed in.
func (a *Aggregator) Aggregate(ctx context.Context, overrides map[string]Override) (*Result, error) {
	res := &Result{}

	byKey := make(map[DesiredKey]DesiredRecord)
	conflicted := make(map[DesiredKey]*DuplicateDesiredError)

	for _, src := range a.registry.All() {
		snap, err := src.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("source snapshot failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			res.SourceErrors = multierror.Append(res.SourceErrors,
				&SnapshotError{Source: src.Name(), Err: err})
			continue
		}

		for _, d := range snap {
			if d.SourceName == "" {
				d.SourceName = src.Name()
			}
			d = applyOverride(d, overrides)

			canon, err := record.Canonicalize(d.Record)
			if err != nil {
				a.logger.Warn("dropping invalid desired record",
					slog.String("source", d.SourceName),
					slog.String("name", d.Name),
					slog.String("type", string(d.Type)),
					slog.String("error", err.Error()),
				)
				res.Invalid++
				continue
			}
			d.Record = canon

			key := d.Key()
			if dup, ok := conflicted[key]; ok {
				dup.Contents = appendUnique(dup.Contents, d.Content)
				dup.Sources = appendUnique(dup.Sources, d.SourceName)
				continue
			}
			prev, ok := byKey[key]
			if !ok {
				byKey[key] = d
				continue
			}
			if prev.Content == d.Content {
				// Same target from two sources; the first wins so TTL
				// and proxied tie-break deterministically.
				continue
			}
			dup := &DuplicateDesiredError{
				Key:      key,
				Contents: []string{prev.Content, d.Content},
				Sources:  appendUnique([]string{prev.SourceName}, d.SourceName),
			}
			conflicted[key] = dup
			delete(byKey, key)
		}
	}

	res.Records = make([]DesiredRecord, 0, len(byKey))
	for _, d := range byKey {
		res.Records = append(res.Records, d)
	}
	sort.Slice(res.Records, func(i, j int) bool {
		if res.Records[i].Name != res.Records[j].Name {
			return res.Records[i].Name < res.Records[j].Name
		}
		return res.Records[i].Type < res.Records[j].Type
	})

	res.Conflicts = make([]*DuplicateDesiredError, 0, len(conflicted))
	for _, dup := range conflicted {
		res.Conflicts = append(res.Conflicts, dup)
	}
	sort.Slice(res.Conflicts, func(i, j int) bool {
		return res.Conflicts[i].Key.String() < res.Conflicts[j].Key.String()
	})

	for _, dup := range res.Conflicts {
		a.logger.Error("conflicting desired records, key excluded",
			slog.String("key", dup.Key.String()),
			slog.Any("contents", dup.Contents),
			slog.Any("sources", dup.Sources),
		)
	}

	return res, nil
}

// applyOverride rewrites a desired record with its hostname override,
// if one exists.
func applyOverride(d DesiredRecord, overrides map[string]Override) DesiredRecord {
	if len(overrides) == 0 {
		return d
	}
	o, ok := overrides[record.NormalizeName(d.Name)]
	if !ok {
		return d
	}
	if o.RecordType != nil {
		d.Type = *o.RecordType
	}
	if o.Content != nil {
		d.Content = *o.Content
	}
	if o.TTL != nil {
		d.TTL = *o.TTL
	}
	if o.Proxied != nil {
		v := *o.Proxied
		d.Proxied = &v
	}
	if o.ProviderID != nil {
		d.ProviderID = *o.ProviderID
	}
	return d
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
