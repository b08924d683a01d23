package engine

import (
	"fmt"
	"slices"
	"time"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
	"sitetrace/internal/graph"
)

// Desired-node builders. Zero time values are left off the node so the
// diff never compares a field whose value is not yet known.

func (e *Engine) actionNode(t domain.ActionTarget) graph.Node {
	p := e.Config.MustPredicate
	n := graph.Node{IRI: t.IRI, Props: map[string]any{
		p(config.HasTaskType):            t.TaskType,
		p(config.ConstructionContractor): t.Contractor,
	}}
	if !t.ProcessStart.IsZero() {
		n.Props[p(config.ProcessStart)] = t.ProcessStart.Format(time.RFC3339)
	}
	if !t.ProcessEnd.IsZero() {
		n.Props[p(config.ProcessEnd)] = t.ProcessEnd.Format(time.RFC3339)
	}
	n.Edges = []graph.Edge{
		{Label: p(config.IntentStatus), Target: t.TaskIRI},
		{Label: p(config.HasTarget), Target: t.AsBuiltIRI},
	}
	return n
}

func (e *Engine) operationNode(t domain.OperationTarget) graph.Node {
	p := e.Config.MustPredicate
	n := graph.Node{IRI: t.IRI, Props: map[string]any{
		p(config.HasTaskType): t.TaskType,
	}}
	if !t.ProcessStart.IsZero() {
		n.Props[p(config.ProcessStart)] = t.ProcessStart.Format(time.RFC3339)
	}
	if !t.LastUpdated.IsZero() {
		n.Props[p(config.LastUpdated)] = t.LastUpdated.Format(time.RFC3339)
	}
	if !t.ProcessEnd.IsZero() {
		n.Props[p(config.ProcessEnd)] = t.ProcessEnd.Format(time.RFC3339)
	}
	n.Edges = []graph.Edge{{Label: p(config.IntentStatus), Target: t.ActivityIRI}}
	for _, iri := range t.ActionIRIs {
		n.Edges = append(n.Edges, graph.Edge{Label: p(config.HasAction), Target: iri})
	}
	return n
}

func (e *Engine) constructionNode(t domain.ConstructionTarget) graph.Node {
	p := e.Config.MustPredicate
	n := graph.Node{
		IRI:   t.IRI,
		Props: map[string]any{p(config.HasProductionMethodType): t.ProductionMethod},
		Edges: []graph.Edge{{Label: p(config.IntentStatus), Target: t.WorkPackageIRI}},
	}
	for _, iri := range t.OperationIRIs {
		n.Edges = append(n.Edges, graph.Edge{Label: p(config.HasOperation), Target: iri})
	}
	return n
}

// nodeMatches reports whether the remote snapshot already carries every
// field the desired node defines. Remote attributes and edge labels the
// desired node says nothing about are ignored.
func nodeMatches(desired graph.Node, remote *graph.Node) bool {
	for k, v := range desired.Props {
		rv, ok := remote.Props[k]
		if !ok || fmt.Sprint(rv) != fmt.Sprint(v) {
			return false
		}
	}
	seen := map[string]bool{}
	for _, edge := range desired.Edges {
		if seen[edge.Label] {
			continue
		}
		seen[edge.Label] = true
		if !slices.Equal(desired.EdgeTargets(edge.Label), remote.EdgeTargets(edge.Label)) {
			return false
		}
	}
	return true
}
