package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/conductor/pkg/schema"
)

// LibSQLArchive stores run results in a libSQL (embedded SQLite fork)
// database. The full result document is kept as JSON alongside a flattened
// copy of the execution trace for event-level queries.
type LibSQLArchive struct {
	db *sql.DB
}

// NewLibSQLArchive opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/runs.db".
func NewLibSQLArchive(dbPath string) (*LibSQLArchive, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLArchive{db: db}, nil
}

// Migrate runs all pending database migrations.
func (a *LibSQLArchive) Migrate(ctx context.Context) error {
	return runMigrations(ctx, a.db)
}

// Close closes the database.
func (a *LibSQLArchive) Close() error { return a.db.Close() }

// StoreRun persists one run result and returns its archive reference, which
// is the run ID. Storing the same run twice replaces the earlier record.
func (a *LibSQLArchive) StoreRun(ctx context.Context, result *schema.RunResult) (string, error) {
	if result == nil || result.RunID == "" {
		return "", fmt.Errorf("archive: run result must carry a run_id")
	}

	rec := Record{RunResult: *result, StoredAt: time.Now().UTC()}
	rec.ArchiveRef = result.RunID
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("archive: marshal run %s: %w", result.RunID, err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("archive: begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, tool_key, status, intent, registry_version, result, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   tool_key=excluded.tool_key, status=excluded.status, intent=excluded.intent,
		   registry_version=excluded.registry_version, result=excluded.result, stored_at=excluded.stored_at`,
		result.RunID, result.ToolKey, string(result.Status), result.Intent,
		result.RegistryVersion, string(doc), rec.StoredAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("archive: insert run %s: %w", result.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, result.RunID); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("archive: clear events for %s: %w", result.RunID, err)
	}
	for seq, ev := range result.Trace {
		payload, err := json.Marshal(ev)
		if err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("archive: marshal event %d of %s: %w", seq, result.RunID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, seq, event_type, step_id, payload) VALUES (?, ?, ?, ?, ?)`,
			result.RunID, seq, string(ev.Kind), ev.StepID, string(payload),
		); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("archive: insert event %d of %s: %w", seq, result.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("archive: commit run %s: %w", result.RunID, err)
	}
	return result.RunID, nil
}

// GetRun loads one archived run by ID.
func (a *LibSQLArchive) GetRun(ctx context.Context, runID string) (*Record, error) {
	var doc string
	err := a.db.QueryRowContext(ctx,
		`SELECT result FROM runs WHERE run_id = ?`, runID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("archive: run %q not found", runID)
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("archive: unmarshal run %s: %w", runID, err)
	}
	return &rec, nil
}

// ListRuns returns archived runs matching the filter, newest first.
func (a *LibSQLArchive) ListRuns(ctx context.Context, filter RunFilter) ([]*Record, error) {
	var where []string
	var args []any

	if filter.ToolKey != "" {
		where = append(where, "tool_key = ?")
		args = append(args, filter.ToolKey)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT result FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY stored_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("archive: unmarshal run: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
