package marker

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Journal operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpLink   = "link"
)

// Entry is one recorded remote write.
type Entry struct {
	ID   int64     `json:"id"`
	TS   time.Time `json:"ts"`
	Op   string    `json:"op"`
	Kind string    `json:"kind"`
	IRI  string    `json:"iri"`
}

// Journal is the local audit trail of remote writes.
type Journal struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewJournal wraps an open database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{DB: db, Now: time.Now}
}

// Append records one remote write.
func (j *Journal) Append(ctx context.Context, op, kind, iri string) error {
	_, err := j.DB.ExecContext(ctx,
		`INSERT INTO write_journal(ts, op, kind, iri) VALUES (?, ?, ?, ?)`,
		j.Now().UTC().Format(time.RFC3339), op, kind, iri)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

// Tail returns the n most recent entries, oldest first.
func (j *Journal) Tail(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.DB.QueryContext(ctx,
		`SELECT id, ts, op, kind, iri FROM (
			SELECT id, ts, op, kind, iri FROM write_journal ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Op, &e.Kind, &e.IRI); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", e.ID, err)
		}
		e.TS = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
