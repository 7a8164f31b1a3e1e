package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Override adjusts how a single hostname is rendered into a desired
// record. Nil fields leave the source value untouched.
type Override struct {
	Hostname   string
	RecordType *record.Type
	Content    *string
	TTL        *int
	Proxied    *bool
	ProviderID *string
	Enabled    bool
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type overrideRow struct {
	Hostname   string         `db:"hostname"`
	RecordType sql.NullString `db:"record_type"`
	Content    sql.NullString `db:"content"`
	TTL        sql.NullInt64  `db:"ttl"`
	Proxied    sql.NullInt64  `db:"proxied"`
	ProviderID sql.NullString `db:"provider_id"`
	Enabled    bool           `db:"enabled"`
	Reason     string         `db:"reason"`
	CreatedAt  int64          `db:"created_at"`
	UpdatedAt  int64          `db:"updated_at"`
}

func (r overrideRow) toOverride() Override {
	o := Override{
		Hostname:  r.Hostname,
		Enabled:   r.Enabled,
		Reason:    r.Reason,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.RecordType.Valid {
		t := record.Type(r.RecordType.String)
		o.RecordType = &t
	}
	if r.Content.Valid {
		o.Content = &r.Content.String
	}
	if r.TTL.Valid {
		v := int(r.TTL.Int64)
		o.TTL = &v
	}
	if r.Proxied.Valid {
		v := r.Proxied.Int64 != 0
		o.Proxied = &v
	}
	if r.ProviderID.Valid {
		o.ProviderID = &r.ProviderID.String
	}
	return o
}

// Overrides returns all enabled hostname overrides keyed by normalized
// hostname.
func (s *Store) Overrides(ctx context.Context) (map[string]Override, error) {
	var rows []overrideRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM hostname_overrides WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	out := make(map[string]Override, len(rows))
	for _, r := range rows {
		o := r.toOverride()
		out[record.NormalizeName(o.Hostname)] = o
	}
	return out, nil
}

// UpsertOverride creates or replaces a hostname override.
func (s *Store) UpsertOverride(ctx context.Context, o Override) error {
	now := time.Now().UTC().UnixMilli()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var recordType, content, providerID any
		if o.RecordType != nil {
			recordType = string(*o.RecordType)
		}
		if o.Content != nil {
			content = *o.Content
		}
		if o.ProviderID != nil {
			providerID = *o.ProviderID
		}
		var ttl any
		if o.TTL != nil {
			ttl = *o.TTL
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hostname_overrides
				(hostname, record_type, content, ttl, proxied, provider_id, enabled, reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (hostname) DO UPDATE SET
				record_type = excluded.record_type,
				content = excluded.content,
				ttl = excluded.ttl,
				proxied = excluded.proxied,
				provider_id = excluded.provider_id,
				enabled = excluded.enabled,
				reason = excluded.reason,
				updated_at = excluded.updated_at`,
			record.NormalizeName(o.Hostname), recordType, content, ttl,
			proxiedVal(o.Proxied), providerID, o.Enabled, o.Reason, now, now,
		)
		return err
	})
}

// DeleteOverride removes a hostname override if present.
func (s *Store) DeleteOverride(ctx context.Context, hostname string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM hostname_overrides WHERE hostname = ?`,
			record.NormalizeName(hostname))
		return err
	})
}

// GetOverride looks up one override by hostname.
func (s *Store) GetOverride(ctx context.Context, hostname string) (*Override, error) {
	var row overrideRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM hostname_overrides WHERE hostname = ?`,
		record.NormalizeName(hostname))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	o := row.toOverride()
	return &o, nil
}
