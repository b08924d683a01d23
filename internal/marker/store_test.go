package marker

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMarkOnce(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	scan := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	claimed, err := store.MarkOnce(ctx, "urn:wp:1", scan)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim must succeed")
	}
	claimed, err = store.MarkOnce(ctx, "urn:wp:1", scan)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("second claim must be rejected")
	}

	ok, err := store.Processed(ctx, "urn:wp:1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("claimed work package not reported as processed")
	}
	ok, err = store.Processed(ctx, "urn:wp:2")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unclaimed work package reported as processed")
	}
}

func TestUnmarkReleasesClaim(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	scan := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	if _, err := store.MarkOnce(ctx, "urn:wp:1", scan); err != nil {
		t.Fatal(err)
	}
	if err := store.Unmark(ctx, "urn:wp:1"); err != nil {
		t.Fatal(err)
	}
	claimed, err := store.MarkOnce(ctx, "urn:wp:1", scan)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("released work package could not be reclaimed")
	}
}

func TestProcessedSet(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()
	scan := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	for _, iri := range []string{"urn:wp:1", "urn:wp:2"} {
		if _, err := store.MarkOnce(ctx, iri, scan); err != nil {
			t.Fatal(err)
		}
	}
	set, err := store.ProcessedSet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 || !set["urn:wp:1"] || !set["urn:wp:2"] {
		t.Errorf("set = %v", set)
	}
}

func TestJournalTail(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db)
	now := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	j.Now = func() time.Time { return now }

	ctx := context.Background()
	writes := []struct{ op, kind, iri string }{
		{OpCreate, "action", "urn:perf:a1"},
		{OpCreate, "operation", "urn:perf:o1"},
		{OpUpdate, "operation", "urn:perf:o1"},
		{OpDelete, "construction", "urn:perf:c1"},
	}
	for _, w := range writes {
		if err := j.Append(ctx, w.op, w.kind, w.iri); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := j.Tail(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// Oldest first within the tail window.
	if entries[0].Op != OpCreate || entries[0].IRI != "urn:perf:o1" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[2].Op != OpDelete || entries[2].Kind != "construction" {
		t.Errorf("last entry = %+v", entries[2])
	}
	if !entries[0].TS.Equal(now) {
		t.Errorf("ts = %v, want %v", entries[0].TS, now)
	}
}
