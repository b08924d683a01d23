package domain

import (
	"errors"
	"testing"
	"time"

	"sitetrace/internal/graph"
)

func TestParseProgress(t *testing.T) {
	for _, v := range []any{float64(0), float64(33), 66, float64(100)} {
		if _, err := ParseProgress(v); err != nil {
			t.Errorf("ParseProgress(%v): %v", v, err)
		}
	}
	for _, v := range []any{float64(50), "100", nil, float64(-1)} {
		if _, err := ParseProgress(v); !errors.Is(err, ErrUnmappedProgress) {
			t.Errorf("ParseProgress(%v) = %v, want ErrUnmappedProgress", v, err)
		}
	}
}

func TestProgressPredicates(t *testing.T) {
	if ProgressNone.Started() {
		t.Error("0 must not count as started")
	}
	if !ProgressRebar.Started() || ProgressRebar.Complete() {
		t.Error("33 is started but not complete")
	}
	if !ProgressComplete.Complete() {
		t.Error("100 is complete")
	}
}

func TestTreeLatestScan(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	tree := &Tree{WorkPackages: []*WorkPackage{{
		Activities: []*Activity{{
			Tasks: []*Task{
				{Node: graph.Node{IRI: "t1"}, AsBuilt: &AsBuilt{Timestamp: day(3)}},
				{Node: graph.Node{IRI: "t2"}, AsBuilt: &AsBuilt{Timestamp: day(9)}},
				{Node: graph.Node{IRI: "t3"}},
			},
		}},
	}}}
	if got := tree.LatestScan(); !got.Equal(day(9)) {
		t.Errorf("latest scan = %v", got)
	}
	empty := &Tree{}
	if !empty.LatestScan().IsZero() {
		t.Error("empty tree must report zero scan date")
	}
}

func TestKindString(t *testing.T) {
	if KindAction.String() != "action" || KindOperation.String() != "operation" || KindConstruction.String() != "construction" {
		t.Error("kind names drifted")
	}
}
