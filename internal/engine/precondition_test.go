package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
	"sitetrace/internal/marker"
)

func newMarkerStore(t *testing.T) *marker.Store {
	t.Helper()
	db, err := marker.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open marker store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return marker.NewStore(db)
}

func TestPreconditionForceClosesConstruction(t *testing.T) {
	env := newTestEnv(t)
	env.seed(100, 33)
	env.fake.required[wpIRI] = true

	ctx := context.Background()
	tree, err := env.eng.LoadHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.eng.ResolveAsBuilt(ctx, tree); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.Reconcile(ctx, tree); err != nil {
		t.Fatal(err)
	}

	store := newMarkerStore(t)
	swept, err := env.eng.RunPreconditions(ctx, tree, store)
	if err != nil {
		t.Fatalf("precondition pass: %v", err)
	}
	if len(swept) != 1 || swept[0] != wpIRI {
		t.Fatalf("swept = %v", swept)
	}

	// The open operation must now carry the portfolio-wide latest scan
	// date as its process end, and the cascade must link both levels.
	p := env.cfg.MustPredicate
	op := env.fake.nodes[PerformedIRI(env.cfg.Performed.Namespace, actIRI)]
	if got, _ := op.StringProp(p(config.ProcessEnd)); got != ts(7) {
		t.Errorf("operation process end = %q, want %q", got, ts(7))
	}
	if env.fake.links != 3 { // construction→operation plus two actions
		t.Errorf("links = %d, want 3", env.fake.links)
	}

	// Scan records themselves must never be rewritten.
	if env.fake.kinds[scan1IRI] != "" {
		t.Error("as-built record was written by the sweep")
	}
}

func TestPreconditionSweepsEachWorkPackageOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(100, 33)
	env.fake.required[wpIRI] = true

	ctx := context.Background()
	tree, err := env.eng.LoadHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.eng.ResolveAsBuilt(ctx, tree); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.Reconcile(ctx, tree); err != nil {
		t.Fatal(err)
	}

	store := newMarkerStore(t)
	if _, err := env.eng.RunPreconditions(ctx, tree, store); err != nil {
		t.Fatal(err)
	}
	links := env.fake.links

	// Later run against the same workspace: the durable marker wins.
	env.eng = New(env.fake, env.cfg, log.New(io.Discard))
	swept, err := env.eng.RunPreconditions(ctx, tree, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 0 {
		t.Fatalf("work package swept twice: %v", swept)
	}
	if env.fake.links != links {
		t.Errorf("replayed sweep issued %d extra links", env.fake.links-links)
	}
}

func TestPreconditionRetriesFailedSweep(t *testing.T) {
	env := newTestEnv(t)
	env.seed(100, 33)
	env.fake.required[wpIRI] = true

	ctx := context.Background()
	tree, err := env.eng.LoadHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.eng.ResolveAsBuilt(ctx, tree); err != nil {
		t.Fatal(err)
	}
	if _, err := env.eng.Reconcile(ctx, tree); err != nil {
		t.Fatal(err)
	}

	store := newMarkerStore(t)
	env.fake.failWrites = true
	_, err = env.eng.RunPreconditions(ctx, tree, store)
	if !errors.Is(err, ErrRemoteWrite) {
		t.Fatalf("want ErrRemoteWrite from failed sweep, got %v", err)
	}
	processed, err := store.Processed(ctx, wpIRI)
	if err != nil {
		t.Fatal(err)
	}
	if processed {
		t.Fatal("failed sweep left its marker behind")
	}

	// The remote recovers; the next run must pick the sweep back up.
	env.fake.failWrites = false
	env.eng = New(env.fake, env.cfg, log.New(io.Discard))
	swept, err := env.eng.RunPreconditions(ctx, tree, store)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 1 || swept[0] != wpIRI {
		t.Fatalf("failed sweep never retried: swept = %v", swept)
	}

	p := env.cfg.MustPredicate
	op := env.fake.nodes[PerformedIRI(env.cfg.Performed.Namespace, actIRI)]
	if got, _ := op.StringProp(p(config.ProcessEnd)); got != ts(7) {
		t.Errorf("operation process end = %q, want %q after retry", got, ts(7))
	}
}

func TestPreconditionRequiresScanDate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(100, 33)
	env.fake.required[wpIRI] = true

	ctx := context.Background()
	tree, err := env.eng.LoadHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// No as-built resolution: the tree carries no observations.
	_, err = env.eng.RunPreconditions(ctx, tree, newMarkerStore(t))
	if !errors.Is(err, domain.ErrNoScanDate) {
		t.Fatalf("want ErrNoScanDate, got %v", err)
	}
}

func TestPreconditionIgnoresUnselectedWorkPackages(t *testing.T) {
	env := newTestEnv(t)
	env.seed(100, 33)

	ctx := context.Background()
	tree, err := env.eng.LoadHierarchy(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.eng.ResolveAsBuilt(ctx, tree); err != nil {
		t.Fatal(err)
	}
	swept, err := env.eng.RunPreconditions(ctx, tree, newMarkerStore(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 0 {
		t.Fatalf("swept = %v, want none", swept)
	}
	if env.fake.links != 0 {
		t.Errorf("links issued for unselected work package: %d", env.fake.links)
	}
}
