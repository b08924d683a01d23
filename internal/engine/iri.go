package engine

import "github.com/google/uuid"

// PerformedIRI derives the as-performed identifier for a planned node.
// The derivation is deterministic and one-way: reconciliation and every
// later lookup recompute it from the planned IRI instead of storing a
// reverse mapping.
func PerformedIRI(namespace, plannedIRI string) string {
	return namespace + uuid.NewSHA1(uuid.NameSpaceURL, []byte(plannedIRI)).String()
}
