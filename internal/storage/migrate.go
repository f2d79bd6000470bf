package storage

import (
	"context"
	"fmt"
	"time"
)

// createTableStatements are safe against any prior schema version: tables are
// created only when absent and never dropped or renamed.
var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS system_state (
        id              INT PRIMARY KEY,
        mode            TEXT NOT NULL DEFAULT 'DEMO',
        status          TEXT NOT NULL DEFAULT 'RUNNING',
        startup_sync_ok BOOLEAN NOT NULL DEFAULT TRUE,
        kill_switch     BOOLEAN NOT NULL DEFAULT FALSE,
        updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS positions (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT NOT NULL,
        side        TEXT NOT NULL,
        size        NUMERIC NOT NULL,
        entry_price NUMERIC NOT NULL,
        status      TEXT NOT NULL DEFAULT 'OPEN',
        opened_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        closed_at   TIMESTAMPTZ,
        pnl         NUMERIC
    );`,
	`CREATE TABLE IF NOT EXISTS audit_log (
        id         BIGSERIAL PRIMARY KEY,
        event_type TEXT NOT NULL,
        message    TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS oco_links (
        id             BIGSERIAL PRIMARY KEY,
        signal_id      TEXT NOT NULL,
        symbol         TEXT NOT NULL,
        base_asset     TEXT NOT NULL,
        tp_order_id    TEXT NOT NULL,
        sl_order_id    TEXT NOT NULL,
        tp_price       NUMERIC NOT NULL,
        sl_stop_price  NUMERIC NOT NULL,
        sl_limit_price NUMERIC NOT NULL,
        amount         NUMERIC NOT NULL,
        status         TEXT NOT NULL DEFAULT 'ACTIVE',
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS executed_signals (
        id         BIGSERIAL PRIMARY KEY,
        signal_id  TEXT NOT NULL UNIQUE,
        executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

// migrationStatements upgrade a store created by an older schema version.
// Each step is additive and idempotent; columns referenced by indexes below
// must be introduced here first.
var migrationStatements = []string{
	`ALTER TABLE system_state ADD COLUMN IF NOT EXISTS mode TEXT NOT NULL DEFAULT 'DEMO';`,
	`ALTER TABLE executed_signals ADD COLUMN IF NOT EXISTS signal_hash TEXT;`,
	`ALTER TABLE executed_signals ADD COLUMN IF NOT EXISTS action TEXT;`,
	`ALTER TABLE executed_signals ADD COLUMN IF NOT EXISTS symbol TEXT;`,
}

// indexStatements run last so that every referenced column already exists,
// whatever schema version the store started from.
var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);`,
	`CREATE INDEX IF NOT EXISTS idx_oco_links_status ON oco_links (status);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executed_signals_signal_id ON executed_signals (signal_id);`,
	`CREATE INDEX IF NOT EXISTS idx_executed_signals_signal_hash ON executed_signals (signal_hash);`,
}

const (
	countSystemStateSQL  = `SELECT COUNT(*) FROM system_state WHERE id = 1;`
	insertSystemStateSQL = `INSERT INTO system_state (id, mode, status, startup_sync_ok, kill_switch, updated_at)
    VALUES (1, $1, $2, TRUE, FALSE, $3);`
	touchSystemStateSQL = `UPDATE system_state SET updated_at = $1 WHERE id = 1;`
)

// Init creates missing tables, applies additive migrations, creates indexes,
// and guarantees the system_state singleton exists. Safe to call on every
// process start; a failure here is fatal to the caller.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNotConfigured
	}

	for _, stmt := range createTableStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	for _, stmt := range migrationStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
	}

	now := time.Now().UTC()
	var count int
	if err := s.pool.QueryRow(ctx, countSystemStateSQL).Scan(&count); err != nil {
		return fmt.Errorf("check system_state singleton: %w", err)
	}
	if count == 0 {
		if _, err := s.pool.Exec(ctx, insertSystemStateSQL, ModeDemo, StatusRunning, now); err != nil {
			return fmt.Errorf("bootstrap system_state: %w", err)
		}
		return nil
	}
	if _, err := s.pool.Exec(ctx, touchSystemStateSQL, now); err != nil {
		return fmt.Errorf("touch system_state: %w", err)
	}
	return nil
}
