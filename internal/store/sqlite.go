// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides allocation ledger persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// dsn attaches the connection pragmas so every pooled connection gets them.
func dsn(path string) string {
	pragmas := "_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ipv6_counters (
			prefix  TEXT PRIMARY KEY,
			counter INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ipv6_assignments (
			prefix     TEXT NOT NULL,
			owner      TEXT NOT NULL,
			address    TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,

			PRIMARY KEY (prefix, owner)
		);

		CREATE INDEX IF NOT EXISTS idx_ipv6_assignments_created
			ON ipv6_assignments(prefix, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions to databases created by older versions
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('ipv6_assignments') WHERE name = 'counter'`,
			apply:  `ALTER TABLE ipv6_assignments ADD COLUMN counter INTEGER NOT NULL DEFAULT 0`,
			column: "counter",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to ipv6_assignments: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "ipv6_assignments")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// NextCounter atomically increments and returns the counter for prefix.
func (s *SQLiteStore) NextCounter(ctx context.Context, prefix string) (uint64, error) {
	query := `
		INSERT INTO ipv6_counters (prefix, counter) VALUES (?, 1)
		ON CONFLICT(prefix) DO UPDATE SET counter = counter + 1
		RETURNING counter
	`

	var counter int64
	if err := s.db.QueryRowContext(ctx, query, prefix).Scan(&counter); err != nil {
		return 0, fmt.Errorf("incrementing counter for %s: %w", prefix, err)
	}
	return uint64(counter), nil
}

// GetAssignment returns the address assigned to owner under prefix.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetAssignment(ctx context.Context, prefix, owner string) (*Assignment, error) {
	query := `
		SELECT prefix, owner, address, counter, created_at
		FROM ipv6_assignments
		WHERE prefix = ? AND owner = ?
	`

	row := s.db.QueryRowContext(ctx, query, prefix, owner)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assignment: %w", err)
	}
	return a, nil
}

// SaveAssignment records a new assignment.
// Returns ErrDuplicateAssignment if the address or owner is already taken.
func (s *SQLiteStore) SaveAssignment(ctx context.Context, a *Assignment) error {
	query := `
		INSERT INTO ipv6_assignments (prefix, owner, address, counter, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.Prefix,
		a.Owner,
		a.Address,
		int64(a.Counter),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAssignment
		}
		return fmt.Errorf("inserting assignment: %w", err)
	}
	return nil
}

// ListAssignments returns every assignment under prefix, oldest first.
func (s *SQLiteStore) ListAssignments(ctx context.Context, prefix string) ([]*Assignment, error) {
	query := `
		SELECT prefix, owner, address, counter, created_at
		FROM ipv6_assignments
		WHERE prefix = ?
		ORDER BY created_at ASC, counter ASC
	`

	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignments: %w", err)
	}
	return out, nil
}

// DeleteAssignment releases owner's address under prefix.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) DeleteAssignment(ctx context.Context, prefix, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ipv6_assignments WHERE prefix = ? AND owner = ?`, prefix, owner)
	if err != nil {
		return fmt.Errorf("deleting assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (*Assignment, error) {
	var (
		a            Assignment
		counter      int64
		createdAtStr string
	)
	if err := row.Scan(&a.Prefix, &a.Owner, &a.Address, &counter, &createdAtStr); err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	a.Counter = uint64(counter)
	a.CreatedAt = createdAt
	return &a, nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}
