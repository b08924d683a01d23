package engine

import (
	"errors"
	"fmt"
	"time"

	"sitetrace/internal/graph"
)

// ErrRemoteWrite marks a create/update/link call the platform reported
// as unsuccessful.
var ErrRemoteWrite = errors.New("remote write rejected")

// ErrMissingAttribute marks a planned node lacking a required attribute.
var ErrMissingAttribute = errors.New("missing attribute")

func requireString(n graph.Node, pred string) (string, error) {
	s, ok := n.StringProp(pred)
	if !ok || s == "" {
		return "", fmt.Errorf("node %s: %w: %s", n.IRI, ErrMissingAttribute, pred)
	}
	return s, nil
}

func requireTime(n graph.Node, pred string) (time.Time, error) {
	t, ok := n.TimeProp(pred)
	if !ok {
		return time.Time{}, fmt.Errorf("node %s: %w: %s", n.IRI, ErrMissingAttribute, pred)
	}
	return t, nil
}
