// Package clickhouse records priced quotes for audit and analytics.
// Every normalize, fit or SOW run can be stored with its warnings so
// pricing drift and recurring model defects can be queried later.
package clickhouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sow-pricing/decision/pricing"
)

// QuoteRun is one priced table as it was returned to a caller.
type QuoteRun struct {
	ID                       uuid.UUID        `ch:"id" json:"id"`
	Workspace                string           `ch:"workspace" json:"workspace"`
	Kind                     string           `ch:"kind" json:"kind"`
	Scope                    string           `ch:"scope" json:"scope,omitempty"`
	Title                    string           `ch:"title" json:"title"`
	Currency                 string           `ch:"currency" json:"currency"`
	SubtotalExGst            decimal.Decimal  `ch:"subtotal_ex_gst" json:"subtotal_ex_gst"`
	DiscountPercent          float64          `ch:"discount_percent" json:"discount_percent"`
	DiscountedSubtotalExGst  decimal.Decimal  `ch:"discounted_subtotal_ex_gst" json:"discounted_subtotal_ex_gst"`
	GstAmount                decimal.Decimal  `ch:"gst_amount" json:"gst_amount"`
	TotalIncGst              decimal.Decimal  `ch:"total_inc_gst" json:"total_inc_gst"`
	TargetAfterDiscountExGst *decimal.Decimal `ch:"target_after_discount_ex_gst" json:"target_after_discount_ex_gst,omitempty"`
	RowCount                 int              `ch:"row_count" json:"row_count"`
	WarningCount             int              `ch:"warning_count" json:"warning_count"`
	Hash                     string           `ch:"hash" json:"hash"`
	CreatedAt                time.Time        `ch:"created_at" json:"created_at"`
}

// QuoteWarning is one warning raised while producing a run.
type QuoteWarning struct {
	RunID  uuid.UUID `ch:"run_id" json:"run_id"`
	Seq    int       `ch:"seq" json:"seq"`
	Type   string    `ch:"type" json:"type"`
	Role   string    `ch:"role" json:"role,omitempty"`
	Detail string    `ch:"detail" json:"detail"`
}

// Run kinds.
const (
	KindNormalize = "normalize"
	KindFit       = "fit"
	KindSOW       = "sow"
)

// NewQuoteRun builds the audit records for a priced table.
func NewQuoteRun(kind, workspace, scope string, t pricing.Table, warnings []pricing.Warning, target *float64) (QuoteRun, []QuoteWarning) {
	s := pricing.ComputeSummary(t)
	run := QuoteRun{
		ID:                      uuid.New(),
		Workspace:               workspace,
		Kind:                    kind,
		Scope:                   scope,
		Title:                   t.Title,
		Currency:                t.Currency,
		SubtotalExGst:           s.SubtotalExGst,
		DiscountPercent:         s.DiscountPercent,
		DiscountedSubtotalExGst: s.DiscountedSubtotalExGst,
		GstAmount:               s.GstAmount,
		TotalIncGst:             s.TotalIncGst,
		RowCount:                len(t.Rows),
		WarningCount:            len(warnings),
		Hash:                    hashTable(t),
		CreatedAt:               time.Now().UTC(),
	}
	if target != nil && *target > 0 && !math.IsInf(*target, 0) {
		d := decimal.NewFromFloat(*target).Round(2)
		run.TargetAfterDiscountExGst = &d
	}

	out := make([]QuoteWarning, 0, len(warnings))
	for i, w := range warnings {
		detail, _ := json.Marshal(w)
		out = append(out, QuoteWarning{
			RunID:  run.ID,
			Seq:    i,
			Type:   string(w.Type),
			Role:   w.Role,
			Detail: string(detail),
		})
	}
	return run, out
}

// hashTable fingerprints the priced content of a table so identical
// quotes can be grouped.
func hashTable(t pricing.Table) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%v", t.Title, t.Currency, t.DiscountPercent, t.GstPercent)
	for _, r := range t.Rows {
		fmt.Fprintf(h, "|%s;%s;%v;%v", r.Role, r.Description, r.Hours, r.BaseRate)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "sowpricing",
		Username: "default",
	}
}

// Store writes and queries quote runs.
type Store struct {
	conn driver.Conn
	cfg  *Config
}

// NewStore connects to ClickHouse.
func NewStore(cfg *Config) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// SCHEMA
// =============================================================================

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS quote_runs (
		id UUID,
		workspace String,
		kind LowCardinality(String),
		scope String,
		title String,
		currency LowCardinality(String),
		subtotal_ex_gst Decimal(18, 2),
		discount_percent Float64,
		discounted_subtotal_ex_gst Decimal(18, 2),
		gst_amount Decimal(18, 2),
		total_inc_gst Decimal(18, 2),
		target_after_discount_ex_gst Nullable(Decimal(18, 2)),
		row_count UInt32,
		warning_count UInt32,
		hash String,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (workspace, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS quote_warnings (
		run_id UUID,
		workspace String,
		seq UInt32,
		type LowCardinality(String),
		role String,
		detail String,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (workspace, type, run_id, seq)`,
}

// Migrate creates the audit tables if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range migrations {
		if err := s.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// =============================================================================
// RUN OPERATIONS
// =============================================================================

// RecordRun inserts a run and batch-inserts its warnings.
func (s *Store) RecordRun(ctx context.Context, run QuoteRun, warnings []QuoteWarning) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO quote_runs (
			id, workspace, kind, scope, title, currency,
			subtotal_ex_gst, discount_percent, discounted_subtotal_ex_gst,
			gst_amount, total_inc_gst, target_after_discount_ex_gst,
			row_count, warning_count, hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := s.conn.Exec(ctx, query,
		run.ID, run.Workspace, run.Kind, run.Scope, run.Title, run.Currency,
		run.SubtotalExGst, run.DiscountPercent, run.DiscountedSubtotalExGst,
		run.GstAmount, run.TotalIncGst, run.TargetAfterDiscountExGst,
		uint32(run.RowCount), uint32(run.WarningCount), run.Hash, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert quote run: %w", err)
	}

	if len(warnings) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO quote_warnings (run_id, workspace, seq, type, role, detail, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare warning batch: %w", err)
	}
	for _, w := range warnings {
		if err := batch.Append(run.ID, run.Workspace, uint32(w.Seq), w.Type, w.Role, w.Detail, run.CreatedAt); err != nil {
			return fmt.Errorf("failed to append warning: %w", err)
		}
	}
	return batch.Send()
}

const runColumns = `
	id, workspace, kind, scope, title, currency,
	subtotal_ex_gst, discount_percent, discounted_subtotal_ex_gst,
	gst_amount, total_inc_gst, target_after_discount_ex_gst,
	row_count, warning_count, hash, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*QuoteRun, error) {
	var run QuoteRun
	var rowCount, warningCount uint32
	if err := row.Scan(
		&run.ID, &run.Workspace, &run.Kind, &run.Scope, &run.Title, &run.Currency,
		&run.SubtotalExGst, &run.DiscountPercent, &run.DiscountedSubtotalExGst,
		&run.GstAmount, &run.TotalIncGst, &run.TargetAfterDiscountExGst,
		&rowCount, &warningCount, &run.Hash, &run.CreatedAt,
	); err != nil {
		return nil, err
	}
	run.RowCount = int(rowCount)
	run.WarningCount = int(warningCount)
	return &run, nil
}

// GetRun retrieves a run by ID, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*QuoteRun, error) {
	query := `SELECT` + runColumns + `
		FROM quote_runs
		WHERE id = ?
		LIMIT 1
	`
	run, err := scanRun(s.conn.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote run: %w", err)
	}
	return run, nil
}

// ListRuns returns a workspace's most recent runs.
func (s *Store) ListRuns(ctx context.Context, workspace string, limit int) ([]*QuoteRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT` + runColumns + `
		FROM quote_runs
		WHERE workspace = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quote runs: %w", err)
	}
	defer rows.Close()

	var runs []*QuoteRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// WarningCounts tallies a workspace's warnings by type.
func (s *Store) WarningCounts(ctx context.Context, workspace string) (map[string]int, error) {
	query := `
		SELECT type, count()
		FROM quote_warnings
		WHERE workspace = ?
		GROUP BY type
	`
	rows, err := s.conn.Query(ctx, query, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to count warnings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n uint64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan warning count: %w", err)
		}
		counts[typ] = int(n)
	}
	return counts, rows.Err()
}
