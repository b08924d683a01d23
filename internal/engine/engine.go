package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
	"sitetrace/internal/graph"
	"sitetrace/internal/marker"
)

// markState tracks what the current run already knows about a derived
// IRI. The zero value means the IRI has not been visited yet.
type markState int

const (
	stateNotSeen markState = iota
	stateCurrent           // visited, remote already matched the target
	stateWritten           // visited, created or updated this run
)

// Counts is the per-kind write tally for one reconciliation run.
type Counts struct {
	Created map[string]int `json:"created"`
	Updated map[string]int `json:"updated"`
}

func newCounts() Counts {
	return Counts{Created: map[string]int{}, Updated: map[string]int{}}
}

// Engine derives the as-performed graph from planned nodes and scan
// records and upserts it, diffing before every write.
type Engine struct {
	Client      GraphClient
	Config      *config.Config
	Log         *log.Logger
	Journal     *marker.Journal
	ForceUpdate bool

	states map[string]markState
	counts Counts
}

// New builds an engine. Journal stays nil unless attached by the caller.
func New(client GraphClient, cfg *config.Config, logger *log.Logger) *Engine {
	return &Engine{
		Client: client,
		Config: cfg,
		Log:    logger,
		states: map[string]markState{},
		counts: newCounts(),
	}
}

// Reconcile walks the resolved tree bottom-up and upserts the derived
// Action, Operation and Construction nodes.
func (e *Engine) Reconcile(ctx context.Context, tree *domain.Tree) (Counts, error) {
	e.states = map[string]markState{}
	e.counts = newCounts()
	for _, wp := range tree.WorkPackages {
		if err := e.reconcileWorkPackage(ctx, wp); err != nil {
			return e.counts, err
		}
	}
	return e.counts, nil
}

func (e *Engine) reconcileWorkPackage(ctx context.Context, wp *domain.WorkPackage) error {
	var opIRIs []string
	for _, act := range wp.Activities {
		opIRI, err := e.reconcileActivity(ctx, act)
		if err != nil {
			return err
		}
		if opIRI != "" {
			opIRIs = append(opIRIs, opIRI)
		}
	}
	if len(opIRIs) == 0 {
		return nil
	}
	target, err := e.constructionTarget(wp, opIRIs)
	if err != nil {
		return err
	}
	return e.upsert(ctx, domain.KindConstruction, e.constructionNode(target), false)
}

// reconcileActivity upserts Actions for every started Task and then the
// Activity's Operation. It returns the Operation IRI, or "" when no
// work has been observed under the Activity yet.
func (e *Engine) reconcileActivity(ctx context.Context, act *domain.Activity) (string, error) {
	var actionIRIs []string
	var earliest, latest time.Time
	allComplete := true
	for _, task := range act.Tasks {
		ab := task.AsBuilt
		if ab == nil {
			continue
		}
		if !ab.Progress.Started() {
			allComplete = false
			continue
		}
		if !ab.Progress.Complete() {
			allComplete = false
		}
		if earliest.IsZero() || ab.Timestamp.Before(earliest) {
			earliest = ab.Timestamp
		}
		if ab.Timestamp.After(latest) {
			latest = ab.Timestamp
		}
		target, err := e.actionTarget(task)
		if err != nil {
			return "", err
		}
		if err := e.upsert(ctx, domain.KindAction, e.actionNode(target), false); err != nil {
			return "", err
		}
		actionIRIs = append(actionIRIs, target.IRI)
	}
	if len(actionIRIs) == 0 {
		return "", nil
	}
	target, err := e.operationTarget(act, actionIRIs, earliest, latest, allComplete)
	if err != nil {
		return "", err
	}
	if err := e.upsert(ctx, domain.KindOperation, e.operationNode(target), false); err != nil {
		return "", err
	}
	return target.IRI, nil
}

func (e *Engine) actionTarget(task *domain.Task) (domain.ActionTarget, error) {
	p := e.Config.MustPredicate
	taskType, err := requireString(task.Node, p(config.HasTaskType))
	if err != nil {
		return domain.ActionTarget{}, err
	}
	contractor, err := requireString(task.Node, p(config.ConstructionContractor))
	if err != nil {
		return domain.ActionTarget{}, err
	}
	plannedStart, err := requireTime(task.Node, p(config.PlannedStart))
	if err != nil {
		return domain.ActionTarget{}, err
	}
	return domain.ActionTarget{
		IRI:          PerformedIRI(e.Config.Performed.Namespace, task.Node.IRI),
		TaskIRI:      task.Node.IRI,
		AsBuiltIRI:   task.AsBuilt.IRI,
		TaskType:     taskType,
		Contractor:   contractor,
		ProcessStart: plannedStart,
		ProcessEnd:   task.AsBuilt.Timestamp,
	}, nil
}

func (e *Engine) operationTarget(act *domain.Activity, actionIRIs []string, earliest, latest time.Time, complete bool) (domain.OperationTarget, error) {
	p := e.Config.MustPredicate
	taskType, err := requireString(act.Node, p(config.HasTaskType))
	if err != nil {
		return domain.OperationTarget{}, err
	}
	start := earliest
	if e.Config.Performed.SharedOperationStart {
		start, err = requireTime(act.Node, p(config.PlannedStart))
		if err != nil {
			return domain.OperationTarget{}, err
		}
	}
	target := domain.OperationTarget{
		IRI:          PerformedIRI(e.Config.Performed.Namespace, act.Node.IRI),
		ActivityIRI:  act.Node.IRI,
		TaskType:     taskType,
		ActionIRIs:   sortedCopy(actionIRIs),
		ProcessStart: start,
		LastUpdated:  latest,
	}
	if complete {
		target.ProcessEnd = latest
	}
	return target, nil
}

func (e *Engine) constructionTarget(wp *domain.WorkPackage, opIRIs []string) (domain.ConstructionTarget, error) {
	method, err := requireString(wp.Node, e.Config.MustPredicate(config.HasProductionMethodType))
	if err != nil {
		return domain.ConstructionTarget{}, err
	}
	return domain.ConstructionTarget{
		IRI:              PerformedIRI(e.Config.Performed.Namespace, wp.Node.IRI),
		WorkPackageIRI:   wp.Node.IRI,
		ProductionMethod: method,
		OperationIRIs:    sortedCopy(opIRIs),
	}, nil
}

// upsert applies the create-vs-update decision for one derived node.
// The in-run state map suppresses repeat visits unless force (or the
// engine-wide ForceUpdate) is set; field equality against the remote
// snapshot always suppresses the write itself.
func (e *Engine) upsert(ctx context.Context, kind domain.Kind, desired graph.Node, force bool) error {
	if !force && !e.ForceUpdate && e.states[desired.IRI] != stateNotSeen {
		return nil
	}
	exists, err := e.Client.Exists(ctx, desired.IRI)
	if err != nil {
		return err
	}
	if !exists {
		ok, err := e.create(ctx, kind, desired)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrRemoteWrite, desired.IRI)
		}
		e.states[desired.IRI] = stateWritten
		e.counts.Created[kind.String()]++
		e.journal(ctx, marker.OpCreate, kind, desired.IRI)
		e.Log.Debug("created", "kind", kind, "iri", desired.IRI)
		return nil
	}
	remote, err := e.Client.NodeWithEdges(ctx, desired.IRI)
	if err != nil {
		return err
	}
	if nodeMatches(desired, remote) {
		e.states[desired.IRI] = stateCurrent
		return nil
	}
	ok, err := e.update(ctx, kind, desired)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRemoteWrite, desired.IRI)
	}
	e.states[desired.IRI] = stateWritten
	e.counts.Updated[kind.String()]++
	e.journal(ctx, marker.OpUpdate, kind, desired.IRI)
	e.Log.Debug("updated", "kind", kind, "iri", desired.IRI)
	return nil
}

func (e *Engine) create(ctx context.Context, kind domain.Kind, n graph.Node) (bool, error) {
	switch kind {
	case domain.KindAction:
		return e.Client.CreateAction(ctx, n)
	case domain.KindOperation:
		return e.Client.CreateOperation(ctx, n)
	case domain.KindConstruction:
		return e.Client.CreateConstruction(ctx, n)
	default:
		return false, fmt.Errorf("unknown node kind %v", kind)
	}
}

func (e *Engine) update(ctx context.Context, kind domain.Kind, n graph.Node) (bool, error) {
	switch kind {
	case domain.KindAction:
		return e.Client.UpdateAction(ctx, n)
	case domain.KindOperation:
		return e.Client.UpdateOperation(ctx, n)
	case domain.KindConstruction:
		return e.Client.UpdateConstruction(ctx, n)
	default:
		return false, fmt.Errorf("unknown node kind %v", kind)
	}
}

func (e *Engine) journal(ctx context.Context, op string, kind domain.Kind, iri string) {
	if e.Journal == nil {
		return
	}
	if err := e.Journal.Append(ctx, op, kind.String(), iri); err != nil {
		e.Log.Warn("journal write failed", "err", err)
	}
}

// DeletePerformed removes derived nodes by kind; level "all" sweeps the
// three kinds from the top of the hierarchy down. It returns the number
// of deleted nodes per kind.
func (e *Engine) DeletePerformed(ctx context.Context, level string) (map[string]int, error) {
	var kinds []domain.Kind
	switch level {
	case "construction":
		kinds = []domain.Kind{domain.KindConstruction}
	case "operation":
		kinds = []domain.Kind{domain.KindOperation}
	case "action":
		kinds = []domain.Kind{domain.KindAction}
	case "all":
		kinds = []domain.Kind{domain.KindConstruction, domain.KindOperation, domain.KindAction}
	default:
		return nil, fmt.Errorf("unknown target level %q", level)
	}
	deleted := map[string]int{}
	for _, kind := range kinds {
		deleted[kind.String()] = 0
		set, err := e.fetchKind(ctx, kind)
		if err != nil {
			return deleted, err
		}
		for _, n := range set.Items {
			ok, err := e.Client.DeleteNode(ctx, n.IRI)
			if err != nil {
				return deleted, err
			}
			if !ok {
				return deleted, fmt.Errorf("%w: %s", ErrRemoteWrite, n.IRI)
			}
			deleted[kind.String()]++
			e.journal(ctx, marker.OpDelete, kind, n.IRI)
		}
	}
	return deleted, nil
}

func (e *Engine) fetchKind(ctx context.Context, kind domain.Kind) (graph.NodeSet, error) {
	switch kind {
	case domain.KindAction:
		return e.Client.Actions(ctx)
	case domain.KindOperation:
		return e.Client.Operations(ctx)
	case domain.KindConstruction:
		return e.Client.Constructions(ctx)
	default:
		return graph.NodeSet{}, fmt.Errorf("unknown node kind %v", kind)
	}
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
