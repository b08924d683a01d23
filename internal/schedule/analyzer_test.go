package schedule

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
	"sitetrace/internal/graph"
)

func ts(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

type fakeOps struct {
	ops map[string]graph.NodeSet
}

func (f *fakeOps) OperationOf(_ context.Context, activityIRI string) (graph.NodeSet, error) {
	return f.ops[activityIRI], nil
}

type fixture struct {
	cfg *config.Config
	ops *fakeOps
	a   *Analyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default("http://platform.test")
	ops := &fakeOps{ops: map[string]graph.NodeSet{}}
	return &fixture{cfg: cfg, ops: ops, a: NewAnalyzer(ops, cfg, log.New(io.Discard))}
}

// activity builds one planned Activity with tasks at the given progress
// codes, all scanned on Jan 7, planned Jan 1 through Jan 10.
func (f *fixture) activity(iri string, progress ...int) *domain.Activity {
	p := f.cfg.MustPredicate
	act := &domain.Activity{Node: graph.Node{IRI: iri, Props: map[string]any{
		p(config.PlannedStart): ts(1).Format(time.RFC3339),
		p(config.PlannedEnd):   ts(10).Format(time.RFC3339),
	}}}
	for i, code := range progress {
		act.Tasks = append(act.Tasks, &domain.Task{
			Node: graph.Node{IRI: iri + ":task:" + string(rune('a'+i)), Props: map[string]any{}},
			AsBuilt: &domain.AsBuilt{
				IRI:       iri + ":scan:" + string(rune('a'+i)),
				Progress:  domain.Progress(code),
				Timestamp: ts(7),
			},
		})
	}
	return act
}

func (f *fixture) operation(activityIRI string, start, end time.Time) {
	p := f.cfg.MustPredicate
	props := map[string]any{p(config.ProcessStart): start.Format(time.RFC3339)}
	if !end.IsZero() {
		props[p(config.ProcessEnd)] = end.Format(time.RFC3339)
	}
	f.ops.ops[activityIRI] = graph.NodeSet{
		Items: []graph.Node{{IRI: "urn:op:" + activityIRI, Props: props}}, Size: 1,
	}
}

func (f *fixture) tree(acts ...*domain.Activity) *domain.Tree {
	wp := &domain.WorkPackage{Node: graph.Node{IRI: "urn:plan:wp1"}, Activities: acts}
	return &domain.Tree{WorkPackages: []*domain.WorkPackage{wp}}
}

func TestClassifyCompleteTask(t *testing.T) {
	cases := []struct {
		name       string
		opEnd      time.Time
		wantStatus domain.ScheduleStatus
		wantDays   int
	}{
		{"finished early", ts(5), domain.StatusAhead, 5},
		{"finished late", ts(15), domain.StatusBehind, 5},
		{"finished exactly", ts(10), domain.StatusOn, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := classifyTask(domain.ProgressComplete, ts(1), ts(10), ts(1), tc.opEnd)
			if err != nil {
				t.Fatal(err)
			}
			if v.status != tc.wantStatus || v.days != tc.wantDays {
				t.Errorf("got %s/%d, want %s/%d", v.status, v.days, tc.wantStatus, tc.wantDays)
			}
			if !v.complete {
				t.Error("progress 100 must count as complete")
			}
		})
	}
}

func TestClassifyPartialProgressUsesEndRule(t *testing.T) {
	for _, code := range []domain.Progress{domain.ProgressRebar, domain.ProgressFormwork} {
		v, err := classifyTask(code, ts(1), ts(10), ts(1), ts(15))
		if err != nil {
			t.Fatal(err)
		}
		if v.status != domain.StatusBehind || v.days != 5 || !v.complete {
			t.Errorf("progress %d: got %s/%d complete=%v", code, v.status, v.days, v.complete)
		}
	}
}

func TestClassifyUnstartedTask(t *testing.T) {
	// Planned after actual start: nothing is late yet.
	v, err := classifyTask(domain.ProgressNone, ts(8), ts(20), ts(5), ts(12))
	if err != nil {
		t.Fatal(err)
	}
	if v.status != domain.StatusOn || v.days != -1 || v.complete {
		t.Errorf("got %s/%d complete=%v", v.status, v.days, v.complete)
	}

	// Planned before actual start: behind by end-to-end difference.
	v, err = classifyTask(domain.ProgressNone, ts(1), ts(10), ts(5), ts(12))
	if err != nil {
		t.Fatal(err)
	}
	if v.status != domain.StatusBehind || v.days != 2 {
		t.Errorf("got %s/%d, want behind/2", v.status, v.days)
	}
}

func TestClassifyRejectsUnknownProgress(t *testing.T) {
	_, err := classifyTask(domain.Progress(42), ts(1), ts(10), ts(1), ts(10))
	if !errors.Is(err, domain.ErrUnmappedProgress) {
		t.Fatalf("want ErrUnmappedProgress, got %v", err)
	}
}

func TestVoteTieBreakOrder(t *testing.T) {
	mk := func(statuses ...domain.ScheduleStatus) []taskVerdict {
		var vs []taskVerdict
		for _, s := range statuses {
			vs = append(vs, taskVerdict{status: s})
		}
		return vs
	}
	if got := vote(mk(domain.StatusOn, domain.StatusAhead)); got != domain.StatusAhead {
		t.Errorf("ahead must win ties, got %s", got)
	}
	if got := vote(mk(domain.StatusOn, domain.StatusBehind)); got != domain.StatusBehind {
		t.Errorf("behind must beat on in ties, got %s", got)
	}
	if got := vote(mk(domain.StatusOn, domain.StatusOn, domain.StatusBehind)); got != domain.StatusOn {
		t.Errorf("majority must win, got %s", got)
	}
}

func TestAnalyzeAggregatesActivity(t *testing.T) {
	f := newFixture(t)
	act := f.activity("urn:plan:act1", 100, 100, 33, 100)
	f.operation("urn:plan:act1", ts(1), ts(15)) // five days past planned end

	reports, err := f.a.Analyze(context.Background(), f.tree(act))
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d", len(reports))
	}
	r := reports[0]
	if r.Status != domain.StatusBehind {
		t.Errorf("status = %s, want behind", r.Status)
	}
	if r.Days != 5 {
		t.Errorf("days = %d, want 5", r.Days)
	}
	if r.Completion != 100 {
		t.Errorf("completion = %.1f, want 100", r.Completion)
	}
	if r.ProjectedDays != nil {
		t.Error("fully complete activity must not be projected")
	}
	if r.WorkPackageIRI != "urn:plan:wp1" {
		t.Errorf("work package = %q", r.WorkPackageIRI)
	}
}

func TestAnalyzeCompletionPercentage(t *testing.T) {
	f := newFixture(t)
	act := f.activity("urn:plan:act1", 100, 100, 100, 0)
	f.operation("urn:plan:act1", ts(1), ts(10))

	reports, err := f.a.Analyze(context.Background(), f.tree(act))
	if err != nil {
		t.Fatal(err)
	}
	if got := reports[0].Completion; got != 75.0 {
		t.Errorf("completion = %.1f, want 75.0", got)
	}
}

func TestAnalyzeProjectsDelayedActivity(t *testing.T) {
	f := newFixture(t)
	act := f.activity("urn:plan:act1", 100, 100, 100, 0)
	// Planned Jan 1-10 (9 days); actual Jan 5-15, so the unstarted task
	// is behind and the operation accrued 10 elapsed days.
	f.operation("urn:plan:act1", ts(5), ts(15))

	reports, err := f.a.Analyze(context.Background(), f.tree(act))
	if err != nil {
		t.Fatal(err)
	}
	r := reports[0]
	if r.Status != domain.StatusBehind {
		t.Fatalf("status = %s", r.Status)
	}
	if r.ProjectedDays == nil {
		t.Fatal("projection missing")
	}
	// completed=3, elapsed=10 → floor 0; (planned 9 + max behind 5) × 0.
	if *r.ProjectedDays != 0 {
		t.Errorf("projected = %d, want 0", *r.ProjectedDays)
	}
}

func TestAnalyzeNotStartedActivity(t *testing.T) {
	f := newFixture(t)
	started := f.activity("urn:plan:act1", 33)
	f.operation("urn:plan:act1", ts(1), ts(7))

	// Second activity has no operation; latest scan (Jan 7) is past its
	// planned start (Jan 1), so it is late by definition.
	notStarted := f.activity("urn:plan:act2")

	reports, err := f.a.Analyze(context.Background(), f.tree(started, notStarted))
	if err != nil {
		t.Fatal(err)
	}
	r := reports[1]
	if r.Status != domain.StatusBehind {
		t.Errorf("status = %s, want behind", r.Status)
	}
	if r.Days != 6 {
		t.Errorf("days = %d, want 6", r.Days)
	}
	if r.Completion != 0 {
		t.Errorf("completion = %.1f, want 0", r.Completion)
	}
	if r.ProjectedDays == nil || *r.ProjectedDays != 15 {
		t.Errorf("projected = %v, want 15 (9 planned + 6 behind)", r.ProjectedDays)
	}
	if !r.OperationEnd.IsZero() {
		t.Error("not-started activity must carry no operation end")
	}
}

func TestAnalyzeRequiresScanDate(t *testing.T) {
	f := newFixture(t)
	act := f.activity("urn:plan:act1") // no tasks, no observations
	_, err := f.a.Analyze(context.Background(), f.tree(act))
	if !errors.Is(err, domain.ErrNoScanDate) {
		t.Fatalf("want ErrNoScanDate, got %v", err)
	}
}
