package store

import (
	"fmt"
	"log/slog"
)

// migrations are applied in order; each entry runs in its own
// transaction and is recorded in schema_migrations.
var migrations = []string{
	`CREATE TABLE provider_cache (
		provider_id       TEXT    NOT NULL,
		external_id       TEXT    NOT NULL,
		type              TEXT    NOT NULL,
		name              TEXT    NOT NULL,
		content           TEXT    NOT NULL,
		ttl               INTEGER NOT NULL DEFAULT 0,
		proxied           INTEGER,
		comment           TEXT    NOT NULL DEFAULT '',
		fingerprint       TEXT    NOT NULL,
		last_refreshed_at INTEGER NOT NULL,
		PRIMARY KEY (provider_id, external_id)
	);
	CREATE INDEX idx_provider_cache_name ON provider_cache (provider_id, name);
	CREATE INDEX idx_provider_cache_type ON provider_cache (provider_id, type);
	CREATE INDEX idx_provider_cache_refreshed ON provider_cache (provider_id, last_refreshed_at);`,

	`CREATE TABLE managed_records (
		provider_id   TEXT    NOT NULL,
		external_id   TEXT    NOT NULL,
		type          TEXT    NOT NULL,
		name          TEXT    NOT NULL,
		content       TEXT    NOT NULL,
		ttl           INTEGER NOT NULL DEFAULT 0,
		proxied       INTEGER,
		first_seen_at INTEGER NOT NULL,
		tracked_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL,
		is_orphaned   INTEGER NOT NULL DEFAULT 0,
		orphaned_at   INTEGER,
		source        TEXT    NOT NULL,
		managed       INTEGER NOT NULL DEFAULT 1,
		metadata_json TEXT    NOT NULL DEFAULT '{}',
		PRIMARY KEY (provider_id, external_id),
		UNIQUE (provider_id, type, name, content)
	);
	CREATE INDEX idx_managed_records_name ON managed_records (provider_id, name);
	CREATE INDEX idx_managed_records_orphaned ON managed_records (is_orphaned);`,

	`CREATE TABLE hostname_overrides (
		hostname    TEXT    NOT NULL PRIMARY KEY,
		record_type TEXT,
		content     TEXT,
		ttl         INTEGER,
		proxied     INTEGER,
		provider_id TEXT,
		enabled     INTEGER NOT NULL DEFAULT 1,
		reason      TEXT    NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: creating schema_migrations: %v", ErrDatabase, err)
	}

	var current int
	if err := s.db.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("%w: reading schema version: %v", ErrDatabase, err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("%w: beginning migration %d: %v", ErrDatabase, i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: applying migration %d: %v", ErrDatabase, i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))`, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: recording migration %d: %v", ErrDatabase, i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: committing migration %d: %v", ErrDatabase, i+1, err)
		}
		s.logger.Debug("applied migration", slog.Int("version", i+1))
	}
	return nil
}
