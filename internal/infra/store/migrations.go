package store

import (
	"context"
	"fmt"
	"strings"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

// DDL is written once with {{ts}}, {{float}} and {{date}} standing in for the
// dialect's column types.
var migrations = []migration{
	{1, "sync_runs", []string{`
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		target_id TEXT,
		status TEXT NOT NULL,
		started_at {{ts}} NOT NULL,
		completed_at {{ts}},
		items_checked INTEGER NOT NULL DEFAULT 0,
		items_created INTEGER NOT NULL DEFAULT 0,
		items_updated INTEGER NOT NULL DEFAULT 0,
		items_failed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		stats TEXT
	)`,
		`CREATE INDEX IF NOT EXISTS sync_runs_status_started ON sync_runs (status, started_at)`,
		// at most one running full or delta run
		`CREATE UNIQUE INDEX IF NOT EXISTS sync_runs_one_bulk_running ON sync_runs (status)
		WHERE status = 'running' AND scope IN ('full', 'delta')`,
	}},
	{2, "catalog", []string{`
	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		logo_url TEXT,
		last_synced_at {{ts}} NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS sets (
		id TEXT PRIMARY KEY,
		series_id TEXT REFERENCES series(id),
		name TEXT NOT NULL,
		logo_url TEXT,
		symbol_url TEXT,
		total_cards INTEGER,
		official_cards INTEGER,
		release_date TEXT,
		tcg_online_code TEXT,
		legal_standard BOOLEAN,
		legal_expanded BOOLEAN,
		upstream_updated_at {{ts}},
		last_synced_at {{ts}} NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		local_id TEXT NOT NULL,
		set_id TEXT NOT NULL REFERENCES sets(id),
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		hp INTEGER,
		types TEXT,
		stage TEXT,
		evolve_from TEXT,
		evolve_to TEXT,
		attacks TEXT,
		abilities TEXT,
		weaknesses TEXT,
		resistances TEXT,
		retreat_cost INTEGER,
		trainer_type TEXT,
		energy_type TEXT,
		effect TEXT,
		illustrator TEXT,
		rarity TEXT,
		regulation_mark TEXT,
		dex_ids TEXT,
		description TEXT,
		image_small TEXT,
		image_large TEXT,
		has_normal BOOLEAN,
		has_reverse BOOLEAN,
		has_holo BOOLEAN,
		has_first_edition BOOLEAN,
		legal_standard BOOLEAN,
		legal_expanded BOOLEAN,
		content_hash TEXT NOT NULL DEFAULT '',
		upstream_updated_at {{ts}},
		last_synced_at {{ts}} NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS cards_set_id ON cards (set_id)`,
	}},
	{3, "price_history", []string{`
	CREATE TABLE IF NOT EXISTS price_history (
		card_id TEXT NOT NULL,
		card_name TEXT NOT NULL,
		set_id TEXT,
		tcgplayer_low {{float}},
		tcgplayer_mid {{float}},
		tcgplayer_high {{float}},
		tcgplayer_market {{float}},
		tcgplayer_updated_at TEXT,
		cardmarket_avg {{float}},
		cardmarket_low {{float}},
		cardmarket_trend {{float}},
		cardmarket_avg1 {{float}},
		cardmarket_avg7 {{float}},
		cardmarket_avg30 {{float}},
		cardmarket_avg_holo {{float}},
		cardmarket_low_holo {{float}},
		cardmarket_trend_holo {{float}},
		cardmarket_avg1_holo {{float}},
		cardmarket_avg7_holo {{float}},
		cardmarket_avg30_holo {{float}},
		cardmarket_updated_at TEXT,
		recorded_at {{date}} NOT NULL,
		PRIMARY KEY (card_id, recorded_at)
	)`}},
	{4, "sync_jobs", []string{`
	CREATE TABLE IF NOT EXISTS sync_jobs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		target_id TEXT,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		enqueued_at {{ts}} NOT NULL,
		claimed_at {{ts}},
		finished_at {{ts}},
		error TEXT
	)`,
		`CREATE INDEX IF NOT EXISTS sync_jobs_status_enqueued ON sync_jobs (status, enqueued_at)`,
	}},
}

func (d *DB) dialectDDL(stmt string) string {
	if d.Kind == KindPostgres {
		return strings.NewReplacer("{{ts}}", "TIMESTAMPTZ", "{{float}}", "DOUBLE PRECISION", "{{date}}", "DATE").Replace(stmt)
	}
	return strings.NewReplacer("{{ts}}", "TEXT", "{{float}}", "REAL", "{{date}}", "TEXT").Replace(stmt)
}

// Migrate applies every schema version newer than the recorded one.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var cur int
	if err := d.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&cur); err != nil {
		return err
	}
	for _, m := range migrations {
		if cur >= m.version {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := d.ExecContext(ctx, d.dialectDDL(stmt)); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := d.ExecContext(ctx, d.Rebind(`INSERT INTO schema_migrations(version) VALUES (?)`), m.version); err != nil {
			return err
		}
		cur = m.version
	}
	return nil
}

// SchemaVersion is the highest applied migration.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
