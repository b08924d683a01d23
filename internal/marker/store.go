package marker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbName = "sitetrace.db"

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_work_packages (
	wp_iri     TEXT PRIMARY KEY,
	scan_date  TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS write_journal (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	ts   TEXT NOT NULL,
	op   TEXT NOT NULL,
	kind TEXT NOT NULL,
	iri  TEXT NOT NULL
);
`

// Path returns the db path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".sitetrace", dbName)
}

// Open opens the workspace SQLite database, creating the directory and
// applying the schema when needed.
func Open(workspace string) (*sql.DB, error) {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current < schemaVersion {
		if _, err := tx.Exec(schemaSQL); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, schemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return tx.Commit()
}

// Store records which WorkPackages already went through the
// construction-close sweep, so a rerun never force-closes them twice.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

// MarkOnce claims a WorkPackage for processing. It returns true exactly
// once per IRI; concurrent or repeated calls observe the existing row
// and return false.
func (s *Store) MarkOnce(ctx context.Context, wpIRI string, scanDate time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_work_packages(wp_iri, scan_date, created_at) VALUES (?, ?, ?)`,
		wpIRI, scanDate.Format(time.RFC3339), s.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("mark work package: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unmark releases a claim, typically after the claimed work failed
// partway and must be retried on a later run.
func (s *Store) Unmark(ctx context.Context, wpIRI string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM processed_work_packages WHERE wp_iri = ?`, wpIRI)
	if err != nil {
		return fmt.Errorf("unmark work package: %w", err)
	}
	return nil
}

// Processed reports whether a WorkPackage was already swept.
func (s *Store) Processed(ctx context.Context, wpIRI string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM processed_work_packages WHERE wp_iri = ?`, wpIRI).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProcessedSet returns every swept WorkPackage IRI.
func (s *Store) ProcessedSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT wp_iri FROM processed_work_packages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[string]bool{}
	for rows.Next() {
		var iri string
		if err := rows.Scan(&iri); err != nil {
			return nil, err
		}
		set[iri] = true
	}
	return set, rows.Err()
}
