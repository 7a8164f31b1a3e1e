package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// cacheRow is the provider_cache table shape.
type cacheRow struct {
	ProviderID      string        `db:"provider_id"`
	ExternalID      string        `db:"external_id"`
	Type            string        `db:"type"`
	Name            string        `db:"name"`
	Content         string        `db:"content"`
	TTL             int           `db:"ttl"`
	Proxied         sql.NullInt64 `db:"proxied"`
	Comment         string        `db:"comment"`
	Fingerprint     string        `db:"fingerprint"`
	LastRefreshedAt int64         `db:"last_refreshed_at"`
}

func (r cacheRow) toProviderRecord() record.ProviderRecord {
	pr := record.ProviderRecord{
		Record: record.Record{
			Type:    record.Type(r.Type),
			Name:    r.Name,
			Content: r.Content,
			TTL:     r.TTL,
			Comment: r.Comment,
		},
		ProviderID:      r.ProviderID,
		ExternalID:      r.ExternalID,
		LastRefreshedAt: time.UnixMilli(r.LastRefreshedAt).UTC(),
	}
	if r.Proxied.Valid {
		v := r.Proxied.Int64 != 0
		pr.Proxied = &v
	}
	return pr
}

func proxiedVal(p *bool) any {
	if p == nil {
		return nil
	}
	if *p {
		return 1
	}
	return 0
}

// Refresh replaces the cached view of a provider with the latest listing.
// Rows present in recs are upserted, rows absent from recs are deleted,
// and every surviving row gets the new refresh timestamp. The whole swap
// runs in one transaction so readers never observe a partial refresh.
func (s *Store) Refresh(ctx context.Context, providerID string, recs []record.ProviderRecord) error {
	now := time.Now().UTC().UnixMilli()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		seen := make([]string, 0, len(recs))
		for _, pr := range recs {
			fp := record.Fingerprint(pr.Record)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO provider_cache
					(provider_id, external_id, type, name, content, ttl, proxied, comment, fingerprint, last_refreshed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (provider_id, external_id) DO UPDATE SET
					type = excluded.type,
					name = excluded.name,
					content = excluded.content,
					ttl = excluded.ttl,
					proxied = excluded.proxied,
					comment = excluded.comment,
					fingerprint = excluded.fingerprint,
					last_refreshed_at = excluded.last_refreshed_at`,
				providerID, pr.ExternalID, string(pr.Type), record.NormalizeName(pr.Name),
				pr.Content, pr.TTL, proxiedVal(pr.Proxied), pr.Comment, fp, now,
			); err != nil {
				return err
			}
			seen = append(seen, pr.ExternalID)
		}

		// Drop rows the provider no longer reports.
		if len(seen) == 0 {
			_, err := tx.ExecContext(ctx, `DELETE FROM provider_cache WHERE provider_id = ?`, providerID)
			return err
		}
		query, args, err := sqlx.In(
			`DELETE FROM provider_cache WHERE provider_id = ? AND external_id NOT IN (?)`,
			providerID, seen,
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Debug("provider cache refreshed",
		slog.String("provider", providerID),
		slog.Int("records", len(recs)),
	)
	return nil
}

// NeedsRefresh reports whether the cached view of a provider is older
// than ttl, or the provider has no cached rows at all.
func (s *Store) NeedsRefresh(ctx context.Context, providerID string, ttl time.Duration) (bool, error) {
	var last sql.NullInt64
	err := s.db.GetContext(ctx, &last,
		`SELECT MAX(last_refreshed_at) FROM provider_cache WHERE provider_id = ?`, providerID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if !last.Valid {
		return true, nil
	}
	return time.UnixMilli(last.Int64).Before(time.Now().Add(-ttl)), nil
}

// CachedRecords returns every cached record for a provider.
func (s *Store) CachedRecords(ctx context.Context, providerID string) ([]record.ProviderRecord, error) {
	var rows []cacheRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM provider_cache WHERE provider_id = ? ORDER BY name, type`, providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	out := make([]record.ProviderRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProviderRecord())
	}
	return out, nil
}

// FindCached looks up a cached record by (type, name).
func (s *Store) FindCached(ctx context.Context, providerID string, typ record.Type, name string) (*record.ProviderRecord, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM provider_cache WHERE provider_id = ? AND type = ? AND name = ?`,
		providerID, string(typ), record.NormalizeName(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	pr := row.toProviderRecord()
	return &pr, nil
}

// FindCachedByExternalID looks up a cached record by provider-native id.
func (s *Store) FindCachedByExternalID(ctx context.Context, providerID, externalID string) (*record.ProviderRecord, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM provider_cache WHERE provider_id = ? AND external_id = ?`,
		providerID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	pr := row.toProviderRecord()
	return &pr, nil
}

// UpsertCached writes a single record into the cache without touching the
// other rows. Used after individual creates/updates so the cache tracks
// applied operations between full refreshes.
func (s *Store) UpsertCached(ctx context.Context, pr record.ProviderRecord) error {
	now := time.Now().UTC().UnixMilli()
	fp := record.Fingerprint(pr.Record)
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO provider_cache
				(provider_id, external_id, type, name, content, ttl, proxied, comment, fingerprint, last_refreshed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider_id, external_id) DO UPDATE SET
				type = excluded.type,
				name = excluded.name,
				content = excluded.content,
				ttl = excluded.ttl,
				proxied = excluded.proxied,
				comment = excluded.comment,
				fingerprint = excluded.fingerprint,
				last_refreshed_at = excluded.last_refreshed_at`,
			pr.ProviderID, pr.ExternalID, string(pr.Type), record.NormalizeName(pr.Name),
			pr.Content, pr.TTL, proxiedVal(pr.Proxied), pr.Comment, fp, now,
		)
		return err
	})
}

// DeleteCached removes a single cached row.
func (s *Store) DeleteCached(ctx context.Context, providerID, externalID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM provider_cache WHERE provider_id = ? AND external_id = ?`,
			providerID, externalID)
		return err
	})
}
