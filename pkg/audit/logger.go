package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	_ "modernc.org/sqlite"
)

// Logger writes and queries per-attempt audit entries in a dedicated SQLite database.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id    TEXT NOT NULL,
		fingerprint   TEXT NOT NULL DEFAULT '',
		component     TEXT NOT NULL DEFAULT '',
		kind          TEXT NOT NULL DEFAULT '',
		provider      TEXT NOT NULL DEFAULT '',
		credential_id TEXT NOT NULL DEFAULT '',
		outcome       TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		status_code   INTEGER NOT NULL DEFAULT 0,
		attempts      INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log(request_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_provider ON audit_log(provider)`)
	return err
}

// Log inserts an audit entry.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log
		(request_id, fingerprint, component, kind, provider, credential_id,
		 outcome, reason, status_code, attempts, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Fingerprint, entry.Component, string(entry.Kind),
		entry.Provider, entry.CredentialID, string(entry.Outcome), entry.Reason,
		entry.StatusCode, entry.Attempts, entry.LatencyMs, entry.CreatedAt.UTC(),
	)
	return err
}

// Observe records a gateway event. Write errors are logged, not returned.
func (l *Logger) Observe(e models.Event) {
	if err := l.Log(context.Background(), e.AuditEntry()); err != nil {
		log.Printf("audit: log %s: %v", e.RequestID, err)
	}
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT id, request_id, fingerprint, component, kind, provider, credential_id,
		outcome, reason, status_code, attempts, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Provider != "" {
		q += " AND provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.Component != "" {
		q += " AND component = ?"
		args = append(args, opts.Component)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var kind, outcome string
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.Fingerprint, &e.Component, &kind,
			&e.Provider, &e.CredentialID, &outcome, &e.Reason,
			&e.StatusCode, &e.Attempts, &e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Kind = models.Kind(kind)
		e.Outcome = models.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by provider, outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider, outcome, date(created_at) as day, count(*) as cnt
		 FROM audit_log GROUP BY provider, outcome, day ORDER BY day DESC, provider, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&s.Provider, &outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays).UTC()
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if n, err := l.Cleanup(context.Background()); err != nil {
				log.Printf("audit: %v", err)
			} else if n > 0 {
				log.Printf("audit: removed %d expired entries", n)
			}
		}
	}
}
