package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edgebet/intelgate/pkg/models"
)

// Tracker records successful provider calls and answers the monthly totals
// used to restore credential and budget counters after a restart.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByProvider returns usage records for a provider since a given time.
	QueryByProvider(ctx context.Context, provider string, since time.Time) ([]models.UsageRecord, error)
	// CredentialTotals returns calls per (provider, credential) since a given time.
	CredentialTotals(ctx context.Context, since time.Time) ([]models.CredentialUsage, error)
	// ComponentTotals returns calls per (provider, component) since a given time.
	ComponentTotals(ctx context.Context, since time.Time) ([]models.ComponentUsage, error)
	// Summary returns aggregated usage, optionally filtered by provider.
	Summary(ctx context.Context, provider string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	component TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_time ON usage_records(provider, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_time ON usage_records(created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, provider, credential_id, component, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.CredentialID, rec.Component, string(rec.Kind), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByProvider returns usage records for a provider since a given time.
func (t *SQLiteTracker) QueryByProvider(ctx context.Context, provider string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, provider, credential_id, component, kind, created_at
		 FROM usage_records WHERE provider = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		provider, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var kind string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Provider, &r.CredentialID, &r.Component, &kind, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Kind = models.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CredentialTotals returns calls per (provider, credential) since a given time.
func (t *SQLiteTracker) CredentialTotals(ctx context.Context, since time.Time) ([]models.CredentialUsage, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT provider, credential_id, COUNT(*) FROM usage_records
		 WHERE created_at >= ? GROUP BY provider, credential_id ORDER BY provider, credential_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("credential totals: %w", err)
	}
	defer rows.Close()

	var out []models.CredentialUsage
	for rows.Next() {
		var u models.CredentialUsage
		if err := rows.Scan(&u.Provider, &u.CredentialID, &u.Calls); err != nil {
			return nil, fmt.Errorf("scan credential totals: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ComponentTotals returns calls per (provider, component) since a given time.
func (t *SQLiteTracker) ComponentTotals(ctx context.Context, since time.Time) ([]models.ComponentUsage, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT provider, component, COUNT(*) FROM usage_records
		 WHERE created_at >= ? GROUP BY provider, component ORDER BY provider, component`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("component totals: %w", err)
	}
	defer rows.Close()

	var out []models.ComponentUsage
	for rows.Next() {
		var u models.ComponentUsage
		if err := rows.Scan(&u.Provider, &u.Component, &u.Calls); err != nil {
			return nil, fmt.Errorf("scan component totals: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Summary returns aggregated usage grouped by provider and component.
func (t *SQLiteTracker) Summary(ctx context.Context, provider string) ([]models.UsageSummary, error) {
	query := `SELECT provider, component, COUNT(*) FROM usage_records`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` GROUP BY provider, component ORDER BY provider, component`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Provider, &s.Component, &s.RequestCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
