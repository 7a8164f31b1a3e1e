package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Source records how a managed row entered the store.
type Source string

const (
	// SourceManaged means the engine created the record itself.
	SourceManaged Source = "managed"

	// SourceDiscovered means the record was observed at the provider and
	// claimed by a user.
	SourceDiscovered Source = "discovered"

	// SourceImported means the record carried the ownership marker and was
	// re-imported automatically (self-healing after database loss).
	SourceImported Source = "imported"
)

// ManagedRecord is a record the engine owns, or has at least tracked.
type ManagedRecord struct {
	record.Record

	ProviderID string
	ExternalID string

	Source  Source
	Managed bool

	IsOrphaned bool
	OrphanedAt *time.Time

	FirstSeenAt time.Time
	TrackedAt   time.Time
	UpdatedAt   time.Time

	Metadata map[string]string
}

type managedRow struct {
	ProviderID   string        `db:"provider_id"`
	ExternalID   string        `db:"external_id"`
	Type         string        `db:"type"`
	Name         string        `db:"name"`
	Content      string        `db:"content"`
	TTL          int           `db:"ttl"`
	Proxied      sql.NullInt64 `db:"proxied"`
	FirstSeenAt  int64         `db:"first_seen_at"`
	TrackedAt    int64         `db:"tracked_at"`
	UpdatedAt    int64         `db:"updated_at"`
	IsOrphaned   bool          `db:"is_orphaned"`
	OrphanedAt   sql.NullInt64 `db:"orphaned_at"`
	Source       string        `db:"source"`
	Managed      bool          `db:"managed"`
	MetadataJSON string        `db:"metadata_json"`
}

func (r managedRow) toManagedRecord() ManagedRecord {
	mr := ManagedRecord{
		Record: record.Record{
			Type:    record.Type(r.Type),
			Name:    r.Name,
			Content: r.Content,
			TTL:     r.TTL,
		},
		ProviderID:  r.ProviderID,
		ExternalID:  r.ExternalID,
		Source:      Source(r.Source),
		Managed:     r.Managed,
		IsOrphaned:  r.IsOrphaned,
		OrphanedAt:  nullTime(r.OrphanedAt),
		FirstSeenAt: time.UnixMilli(r.FirstSeenAt).UTC(),
		TrackedAt:   time.UnixMilli(r.TrackedAt).UTC(),
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Proxied.Valid {
		v := r.Proxied.Int64 != 0
		mr.Proxied = &v
	}
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		_ = json.Unmarshal([]byte(r.MetadataJSON), &mr.Metadata)
	}
	return mr
}

func metadataJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Track inserts or updates a managed row. A pre-existing row for the same
// (provider, type, name, content) under a different external id is folded
// into this one so provider-side id churn never duplicates rows.
func (s *Store) Track(ctx context.Context, mr ManagedRecord) error {
	now := time.Now().UTC().UnixMilli()
	name := record.NormalizeName(mr.Name)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		// Fold any same-target row registered under an older external id.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM managed_records
			WHERE provider_id = ? AND type = ? AND name = ? AND content = ? AND external_id != ?`,
			mr.ProviderID, string(mr.Type), name, mr.Content, mr.ExternalID,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO managed_records
				(provider_id, external_id, type, name, content, ttl, proxied,
				 first_seen_at, tracked_at, updated_at, is_orphaned, orphaned_at,
				 source, managed, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?)
			ON CONFLICT (provider_id, external_id) DO UPDATE SET
				type = excluded.type,
				name = excluded.name,
				content = excluded.content,
				ttl = excluded.ttl,
				proxied = excluded.proxied,
				updated_at = excluded.updated_at,
				is_orphaned = 0,
				orphaned_at = NULL,
				source = excluded.source,
				managed = excluded.managed,
				metadata_json = excluded.metadata_json`,
			mr.ProviderID, mr.ExternalID, string(mr.Type), name, mr.Content,
			mr.TTL, proxiedVal(mr.Proxied), now, now, now,
			string(mr.Source), mr.Managed, metadataJSON(mr.Metadata),
		)
		return err
	})
}

// Untrack removes a managed row.
func (s *Store) Untrack(ctx context.Context, providerID, externalID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM managed_records WHERE provider_id = ? AND external_id = ?`,
			providerID, externalID)
		return err
	})
}

// MarkOrphaned flags a managed row as no longer desired. Already-orphaned
// rows keep their original orphanedAt so the grace window is not reset by
// repeated passes.
func (s *Store) MarkOrphaned(ctx context.Context, providerID, externalID string, at time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE managed_records
			SET is_orphaned = 1, orphaned_at = ?
			WHERE provider_id = ? AND external_id = ? AND is_orphaned = 0`,
			at.UTC().UnixMilli(), providerID, externalID)
		return err
	})
}

// UnmarkOrphaned clears orphan state after a hostname reappears.
func (s *Store) UnmarkOrphaned(ctx context.Context, providerID, externalID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE managed_records
			SET is_orphaned = 0, orphaned_at = NULL
			WHERE provider_id = ? AND external_id = ?`,
			providerID, externalID)
		return err
	})
}

// SetExternalID rebinds a managed row to the id a provider assigned
// during an edit. If the new id already exists (an earlier discovery of
// the same target) the two rows merge: orphan state survives only when
// the surviving row is not itself live, and the losing row is deleted.
func (s *Store) SetExternalID(ctx context.Context, providerID string, typ record.Type, name, newExternalID string) error {
	name = record.NormalizeName(name)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var oldRow managedRow
		err := tx.GetContext(ctx, &oldRow, `
			SELECT * FROM managed_records
			WHERE provider_id = ? AND type = ? AND name = ? AND external_id != ?`,
			providerID, string(typ), name, newExternalID)
		if errors.Is(err, sql.ErrNoRows) {
			// Already bound to the new id is a no-op, anything else is missing.
			var n int
			if err := tx.GetContext(ctx, &n, `
				SELECT COUNT(*) FROM managed_records
				WHERE provider_id = ? AND external_id = ?`,
				providerID, newExternalID); err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			return fmt.Errorf("%w: managed record %s %s", ErrNotFound, typ, name)
		}
		if err != nil {
			return err
		}

		var newRow managedRow
		err = tx.GetContext(ctx, &newRow, `
			SELECT * FROM managed_records
			WHERE provider_id = ? AND external_id = ?`,
			providerID, newExternalID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Plain rebind.
			_, err = tx.ExecContext(ctx, `
				UPDATE managed_records SET external_id = ?, updated_at = ?
				WHERE provider_id = ? AND external_id = ?`,
				newExternalID, time.Now().UTC().UnixMilli(), providerID, oldRow.ExternalID)
			return err
		case err != nil:
			return err
		}

		// Merge: the row already holding the new id wins; it inherits the
		// old row's orphan state only if it is not live itself.
		orphaned := newRow.IsOrphaned && oldRow.IsOrphaned
		var orphanedAt any
		if orphaned {
			at := newRow.OrphanedAt
			if oldRow.OrphanedAt.Valid && (!at.Valid || oldRow.OrphanedAt.Int64 < at.Int64) {
				at = oldRow.OrphanedAt
			}
			orphanedAt = at.Int64
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM managed_records WHERE provider_id = ? AND external_id = ?`,
			providerID, oldRow.ExternalID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE managed_records
			SET is_orphaned = ?, orphaned_at = ?, updated_at = ?
			WHERE provider_id = ? AND external_id = ?`,
			orphaned, orphanedAt, time.Now().UTC().UnixMilli(), providerID, newExternalID)
		return err
	})
}

// ManagedRecords returns every managed row for a provider, orphans
// included, ordered by (name, type) for deterministic iteration.
func (s *Store) ManagedRecords(ctx context.Context, providerID string) ([]ManagedRecord, error) {
	var rows []managedRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM managed_records WHERE provider_id = ? ORDER BY name, type`, providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	out := make([]ManagedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toManagedRecord())
	}
	return out, nil
}

// Orphans returns the orphaned managed rows for a provider.
func (s *Store) Orphans(ctx context.Context, providerID string) ([]ManagedRecord, error) {
	var rows []managedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM managed_records
		WHERE provider_id = ? AND is_orphaned = 1
		ORDER BY name, type`, providerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	out := make([]ManagedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toManagedRecord())
	}
	return out, nil
}

// GetManaged looks up one managed row.
func (s *Store) GetManaged(ctx context.Context, providerID, externalID string) (*ManagedRecord, error) {
	var row managedRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM managed_records WHERE provider_id = ? AND external_id = ?`,
		providerID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	mr := row.toManagedRecord()
	return &mr, nil
}

// IsManaged reports whether a provider record is tracked with managed=true.
func (s *Store) IsManaged(ctx context.Context, providerID, externalID string) (bool, error) {
	var managed bool
	err := s.db.GetContext(ctx, &managed,
		`SELECT managed FROM managed_records WHERE provider_id = ? AND external_id = ?`,
		providerID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return managed, nil
}

// SetManaged toggles the managed flag (claim / release).
func (s *Store) SetManaged(ctx context.Context, providerID, externalID string, managed bool) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE managed_records SET managed = ?, updated_at = ?
			WHERE provider_id = ? AND external_id = ?`,
			managed, time.Now().UTC().UnixMilli(), providerID, externalID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: managed record %s/%s", ErrNotFound, providerID, externalID)
		}
		return nil
	})
	if err == nil {
		s.logger.Info("managed flag changed",
			slog.String("provider", providerID),
			slog.String("external_id", externalID),
			slog.Bool("managed", managed),
		)
	}
	return err
}
