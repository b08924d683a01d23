package graph

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestNodeUnmarshalSplitsReservedKeys(t *testing.T) {
	payload := `{
		"_iri": "urn:plan:task1",
		"_outE": [
			{"_label": "urn:ont:hasTarget", "_targetIRI": "urn:scan:1"},
			{"_label": "urn:ont:hasTarget", "_targetIRI": "urn:scan:0"}
		],
		"urn:ont:progress": 100,
		"urn:ont:timeStamp": "2024-01-05T00:00:00Z"
	}`
	var n Node
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		t.Fatal(err)
	}
	if n.IRI != "urn:plan:task1" {
		t.Errorf("iri = %q", n.IRI)
	}
	if len(n.Edges) != 2 {
		t.Fatalf("edges = %v", n.Edges)
	}
	if _, ok := n.Props["_iri"]; ok {
		t.Error("reserved key leaked into props")
	}
	if v, ok := n.NumberProp("urn:ont:progress"); !ok || v != 100 {
		t.Errorf("progress = %v ok=%v", v, ok)
	}
	ts, ok := n.TimeProp("urn:ont:timeStamp")
	if !ok || !ts.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v ok=%v", ts, ok)
	}
}

func TestNodeMarshalRoundTrip(t *testing.T) {
	in := Node{
		IRI:   "urn:perf:a1",
		Props: map[string]any{"urn:ont:hasTaskType": "urn:type:pour"},
		Edges: []Edge{{Label: "urn:ont:intentStatus", Target: "urn:plan:task1"}},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Node
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.IRI != in.IRI || !reflect.DeepEqual(out.Edges, in.Edges) {
		t.Errorf("round trip lost identity or edges: %+v", out)
	}
	if v, _ := out.StringProp("urn:ont:hasTaskType"); v != "urn:type:pour" {
		t.Errorf("props = %v", out.Props)
	}
}

func TestEdgeTargetsSorted(t *testing.T) {
	n := Node{Edges: []Edge{
		{Label: "has", Target: "urn:b"},
		{Label: "has", Target: "urn:a"},
		{Label: "other", Target: "urn:z"},
	}}
	got := n.EdgeTargets("has")
	want := []string{"urn:a", "urn:b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if n.EdgeTargets("missing") != nil {
		t.Error("missing label must yield nil")
	}
}
