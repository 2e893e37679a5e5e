package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/opentweak/opentweak/pkg/catalog"
	"github.com/opentweak/opentweak/pkg/engine"
	"github.com/opentweak/opentweak/pkg/system"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the durable persistence layer. It implements
// system.ConfigStore for hive/key/value state and engine.HistoryStore for
// batch run records.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// GetValue reads one named value under a key.
func (s *SQLiteStore) GetValue(ctx context.Context, hive, keyPath, valueName string) (catalog.Value, bool, error) {
	query := `
		SELECT value_json
		FROM config_values
		WHERE hive = ? AND key_path = ? AND value_name = ?
	`

	var raw string
	err := s.db.QueryRowContext(ctx, query,
		hive,
		system.NormalizeKeyPath(keyPath),
		strings.ToLower(valueName),
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Value{}, false, nil
	}
	if err != nil {
		return catalog.Value{}, false, fmt.Errorf("failed to get config value: %w", err)
	}

	var value catalog.Value
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return catalog.Value{}, false, fmt.Errorf("failed to decode config value: %w", err)
	}
	return value, true, nil
}

// SetValue writes one named value, creating the key if needed.
func (s *SQLiteStore) SetValue(ctx context.Context, hive, keyPath, valueName string, value catalog.Value, kind catalog.ValueKind) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode config value: %w", err)
	}

	key := system.NormalizeKeyPath(keyPath)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureKeyTx(ctx, tx, hive, key); err != nil {
		return err
	}

	query := `
		INSERT INTO config_values (hive, key_path, value_name, value_json, kind, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (hive, key_path, value_name)
		DO UPDATE SET value_json = excluded.value_json, kind = excluded.kind, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		hive, key, strings.ToLower(valueName), string(raw), string(kind), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config value: %w", err)
	}
	return nil
}

// DeleteValue removes one named value. Deleting an absent value is not an
// error.
func (s *SQLiteStore) DeleteValue(ctx context.Context, hive, keyPath, valueName string) error {
	query := `DELETE FROM config_values WHERE hive = ? AND key_path = ? AND value_name = ?`

	if _, err := s.db.ExecContext(ctx, query,
		hive, system.NormalizeKeyPath(keyPath), strings.ToLower(valueName),
	); err != nil {
		return fmt.Errorf("failed to delete config value: %w", err)
	}
	return nil
}

// KeyExists checks that a key exists.
func (s *SQLiteStore) KeyExists(ctx context.Context, hive, keyPath string) (bool, error) {
	query := `SELECT 1 FROM config_keys WHERE hive = ? AND key_path = ?`

	var one int
	err := s.db.QueryRowContext(ctx, query, hive, system.NormalizeKeyPath(keyPath)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check config key: %w", err)
	}
	return true, nil
}

// CreateKey creates an empty key. Creating an existing key is not an
// error.
func (s *SQLiteStore) CreateKey(ctx context.Context, hive, keyPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureKeyTx(ctx, tx, hive, system.NormalizeKeyPath(keyPath)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config key: %w", err)
	}
	return nil
}

// DeleteKey removes a key, its values, and every key beneath it.
func (s *SQLiteStore) DeleteKey(ctx context.Context, hive, keyPath string) error {
	key := system.NormalizeKeyPath(keyPath)
	prefix := key + "/%"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM config_values WHERE hive = ? AND (key_path = ? OR key_path LIKE ?)`,
		hive, key, prefix,
	); err != nil {
		return fmt.Errorf("failed to delete config values: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM config_keys WHERE hive = ? AND (key_path = ? OR key_path LIKE ?)`,
		hive, key, prefix,
	); err != nil {
		return fmt.Errorf("failed to delete config keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config key deletion: %w", err)
	}
	return nil
}

// ensureKeyTx inserts the key and all its ancestors if missing.
func ensureKeyTx(ctx context.Context, tx *sql.Tx, hive, key string) error {
	query := `INSERT OR IGNORE INTO config_keys (hive, key_path) VALUES (?, ?)`
	for key != "" {
		if _, err := tx.ExecContext(ctx, query, hive, key); err != nil {
			return fmt.Errorf("failed to create config key: %w", err)
		}
		idx := strings.LastIndexByte(key, '/')
		if idx < 0 {
			break
		}
		key = key[:idx]
	}
	return nil
}

// RecordRun persists one batch run and its per-tweak results.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engine.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, action, started_at, completed_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Action), run.StartedAt, run.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	resultQuery := `
		INSERT INTO run_results (run_id, tweak_id, success, error_message, applied_operations, failed_operations, requires_restart, execution_ms, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for tweakID, result := range run.Results {
		messages, err := json.Marshal(result.Messages)
		if err != nil {
			return fmt.Errorf("failed to encode run messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, resultQuery,
			run.ID,
			tweakID,
			result.Success,
			result.ErrorMessage,
			len(result.AppliedOperations),
			len(result.FailedOperations),
			result.RequiresRestart,
			result.ExecutionTime.Milliseconds(),
			string(messages),
		); err != nil {
			return fmt.Errorf("failed to record run result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns lists run summaries, most recent first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	query := `
		SELECT r.id, r.action, r.started_at, r.completed_at,
		       COUNT(rr.tweak_id), COALESCE(SUM(CASE WHEN rr.success THEN 0 ELSE 1 END), 0)
		FROM runs r
		LEFT JOIN run_results rr ON rr.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunSummary{}
	for rows.Next() {
		run := &RunSummary{}
		if err := rows.Scan(
			&run.ID,
			&run.Action,
			&run.StartedAt,
			&run.CompletedAt,
			&run.TweakCount,
			&run.FailedCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// GetRunResults retrieves the per-tweak outcomes of one run.
func (s *SQLiteStore) GetRunResults(ctx context.Context, runID string) ([]*RunResultRow, error) {
	query := `
		SELECT run_id, tweak_id, success, error_message, applied_operations, failed_operations, requires_restart, execution_ms, messages
		FROM run_results
		WHERE run_id = ?
		ORDER BY tweak_id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run results: %w", err)
	}
	defer rows.Close()

	results := []*RunResultRow{}
	for rows.Next() {
		row := &RunResultRow{}
		var messages string
		if err := rows.Scan(
			&row.RunID,
			&row.TweakID,
			&row.Success,
			&row.ErrorMessage,
			&row.AppliedOperations,
			&row.FailedOperations,
			&row.RequiresRestart,
			&row.ExecutionMillis,
			&messages,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run result: %w", err)
		}
		if messages != "" {
			if err := json.Unmarshal([]byte(messages), &row.Messages); err != nil {
				return nil, fmt.Errorf("failed to decode run messages: %w", err)
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run results: %w", err)
	}

	return results, nil
}

// PruneRuns deletes runs older than the cutoff, returning how many were
// removed. Results cascade with the run row.
func (s *SQLiteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
