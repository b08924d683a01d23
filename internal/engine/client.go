package engine

import (
	"context"

	"sitetrace/internal/graph"
)

// GraphClient is the slice of the platform API the reconciler consumes.
// *graph.Client satisfies it; tests substitute an in-memory fake.
type GraphClient interface {
	WorkPackages(ctx context.Context) (graph.NodeSet, error)
	ActivitiesOf(ctx context.Context, wpIRI string) (graph.NodeSet, error)
	TasksOf(ctx context.Context, activityIRI string) (graph.NodeSet, error)
	ElementsOf(ctx context.Context, taskIRI string) (graph.NodeSet, error)
	AsBuiltOf(ctx context.Context, elementIRI string) (graph.NodeSet, error)
	Actions(ctx context.Context) (graph.NodeSet, error)
	Operations(ctx context.Context) (graph.NodeSet, error)
	Constructions(ctx context.Context) (graph.NodeSet, error)

	Exists(ctx context.Context, iri string) (bool, error)
	NodeWithEdges(ctx context.Context, iri string) (*graph.Node, error)
	ConstructionRequired(ctx context.Context, wpIRI string) (bool, error)

	CreateAction(ctx context.Context, n graph.Node) (bool, error)
	UpdateAction(ctx context.Context, n graph.Node) (bool, error)
	CreateOperation(ctx context.Context, n graph.Node) (bool, error)
	UpdateOperation(ctx context.Context, n graph.Node) (bool, error)
	CreateConstruction(ctx context.Context, n graph.Node) (bool, error)
	UpdateConstruction(ctx context.Context, n graph.Node) (bool, error)
	DeleteNode(ctx context.Context, iri string) (bool, error)
	LinkConstructionToOperation(ctx context.Context, constructionIRI, operationIRI string) (bool, error)
	LinkOperationToAction(ctx context.Context, operationIRI, actionIRI string) (bool, error)
}
