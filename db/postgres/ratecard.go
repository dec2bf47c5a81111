// Package postgres stores workspace rate cards in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"sow-pricing/decision/ratecard"
)

const schema = `
CREATE TABLE IF NOT EXISTS rate_card_entries (
	workspace_id TEXT NOT NULL,
	role         TEXT NOT NULL,
	hourly_rate  NUMERIC(12, 2) NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, role)
)`

// Store persists rate card entries per workspace.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := NewStore(db)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Migrate creates the rate card table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate rate_card_entries: %w", err)
	}
	return nil
}

// ListRateCard returns a workspace's entries ordered by role.
func (s *Store) ListRateCard(ctx context.Context, workspaceID string) ([]ratecard.Entry, error) {
	const query = `
SELECT role, hourly_rate::TEXT
FROM rate_card_entries
WHERE workspace_id = $1
ORDER BY role`
	rows, err := s.DB.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate card: %w", err)
	}
	defer rows.Close()

	var entries []ratecard.Entry
	for rows.Next() {
		var role, rate string
		if err := rows.Scan(&role, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan rate card entry: %w", err)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil {
			return nil, fmt.Errorf("invalid hourly_rate %q for role %q: %w", rate, role, err)
		}
		entries = append(entries, ratecard.Entry{Role: role, HourlyRate: d.InexactFloat64()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rate card: %w", err)
	}
	return entries, nil
}

// Load implements the rate card source interface.
func (s *Store) Load(ctx context.Context, workspace string) ([]ratecard.Entry, error) {
	return s.ListRateCard(ctx, workspace)
}

// UpsertEntries writes entries for a workspace in one transaction. Entries
// with an empty role or an unusable rate are skipped.
func (s *Store) UpsertEntries(ctx context.Context, workspaceID string, entries []ratecard.Entry) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
INSERT INTO rate_card_entries (workspace_id, role, hourly_rate, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (workspace_id, role) DO UPDATE
SET hourly_rate = EXCLUDED.hourly_rate, updated_at = EXCLUDED.updated_at`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, e := range entries {
		role := strings.TrimSpace(e.Role)
		if role == "" || !(e.HourlyRate >= 0) || math.IsInf(e.HourlyRate, 1) {
			continue
		}
		rate := decimal.NewFromFloat(e.HourlyRate).Round(2).StringFixed(2)
		if _, err := stmt.ExecContext(ctx, workspaceID, role, rate, now); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate card: %w", err)
	}
	return nil
}

// DeleteRoles removes the named roles from a workspace's card.
func (s *Store) DeleteRoles(ctx context.Context, workspaceID string, roles []string) (int64, error) {
	const query = `DELETE FROM rate_card_entries WHERE workspace_id = $1 AND role = ANY($2)`
	res, err := s.DB.ExecContext(ctx, query, workspaceID, pq.Array(roles))
	if err != nil {
		return 0, fmt.Errorf("failed to delete roles: %w", err)
	}
	return res.RowsAffected()
}
