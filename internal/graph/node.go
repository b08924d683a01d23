package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Wire keys reserved by the platform; everything else on a node payload
// is a predicate-IRI keyed attribute.
const (
	keyIRI      = "_iri"
	keyOutEdges = "_outE"
	keyLabel    = "_label"
	keyTarget   = "_targetIRI"
)

// Node is a remote graph node: a predicate→value mapping plus identity
// and outgoing edges.
type Node struct {
	IRI   string
	Props map[string]any
	Edges []Edge
}

// Edge is an outgoing labeled edge.
type Edge struct {
	Label  string
	Target string
}

// NodeSet is a fully drained paginated query result.
type NodeSet struct {
	Items []Node
	Size  int
}

// MarshalJSON flattens props to the top level alongside _iri and _outE.
func (n Node) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(n.Props)+2)
	for k, v := range n.Props {
		m[k] = v
	}
	m[keyIRI] = n.IRI
	if len(n.Edges) > 0 {
		edges := make([]map[string]string, 0, len(n.Edges))
		for _, e := range n.Edges {
			edges = append(edges, map[string]string{keyLabel: e.Label, keyTarget: e.Target})
		}
		m[keyOutEdges] = edges
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits _iri and _outE back out of the attribute map.
func (n *Node) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	n.Props = map[string]any{}
	n.Edges = nil
	for k, v := range m {
		switch k {
		case keyIRI:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("node %s field is not a string", keyIRI)
			}
			n.IRI = s
		case keyOutEdges:
			list, ok := v.([]any)
			if !ok {
				return fmt.Errorf("node %s field is not a list", keyOutEdges)
			}
			for _, raw := range list {
				em, ok := raw.(map[string]any)
				if !ok {
					return fmt.Errorf("edge entry is not an object")
				}
				label, _ := em[keyLabel].(string)
				target, _ := em[keyTarget].(string)
				n.Edges = append(n.Edges, Edge{Label: label, Target: target})
			}
		default:
			n.Props[k] = v
		}
	}
	return nil
}

// StringProp returns a string-typed attribute.
func (n Node) StringProp(pred string) (string, bool) {
	v, ok := n.Props[pred]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// TimeProp parses an RFC3339 attribute.
func (n Node) TimeProp(pred string) (time.Time, bool) {
	s, ok := n.StringProp(pred)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NumberProp returns a numeric attribute; JSON numbers arrive as float64.
func (n Node) NumberProp(pred string) (float64, bool) {
	switch v := n.Props[pred].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// EdgeTargets returns the sorted targets of all edges with the label.
func (n Node) EdgeTargets(label string) []string {
	var targets []string
	for _, e := range n.Edges {
		if e.Label == label {
			targets = append(targets, e.Target)
		}
	}
	sort.Strings(targets)
	return targets
}
