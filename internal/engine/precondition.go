package engine

import (
	"context"
	"fmt"
	"time"

	"sitetrace/internal/domain"
	"sitetrace/internal/marker"
)

// RunPreconditions force-closes the Construction of every WorkPackage
// the platform's construction-required rule selects, cascading the
// portfolio-wide latest scan date down through Operations and Actions.
// As-built records are never touched. Each WorkPackage is swept at most
// once across all runs; the marker store is the durable guard.
func (e *Engine) RunPreconditions(ctx context.Context, tree *domain.Tree, markers *marker.Store) ([]string, error) {
	latest := tree.LatestScan()
	if latest.IsZero() {
		return nil, domain.ErrNoScanDate
	}
	var processed []string
	for _, wp := range tree.WorkPackages {
		required, err := e.Client.ConstructionRequired(ctx, wp.Node.IRI)
		if err != nil {
			return processed, err
		}
		if !required {
			continue
		}
		claimed, err := markers.MarkOnce(ctx, wp.Node.IRI, latest)
		if err != nil {
			return processed, err
		}
		if !claimed {
			e.Log.Debug("work package already swept, skipping", "workPackage", wp.Node.IRI)
			continue
		}
		if err := e.forceClose(ctx, wp, latest); err != nil {
			// Release the claim so the next run retries the sweep
			// instead of treating the work package as closed.
			if uerr := markers.Unmark(ctx, wp.Node.IRI); uerr != nil {
				e.Log.Error("failed to release sweep claim",
					"workPackage", wp.Node.IRI, "err", uerr)
			}
			return processed, err
		}
		processed = append(processed, wp.Node.IRI)
		e.Log.Info("construction force-closed", "workPackage", wp.Node.IRI, "scanDate", latest)
	}
	return processed, nil
}

func (e *Engine) forceClose(ctx context.Context, wp *domain.WorkPackage, latest time.Time) error {
	type closedActivity struct {
		act    *domain.Activity
		opIRI  string
		target domain.OperationTarget
	}
	var closed []closedActivity
	var opIRIs []string
	for _, act := range wp.Activities {
		actionIRIs, earliest := startedActions(e.Config.Performed.Namespace, act)
		if len(actionIRIs) == 0 {
			continue
		}
		target, err := e.operationTarget(act, actionIRIs, earliest, latest, true)
		if err != nil {
			return err
		}
		target.LastUpdated = latest
		target.ProcessEnd = latest
		closed = append(closed, closedActivity{act: act, opIRI: target.IRI, target: target})
		opIRIs = append(opIRIs, target.IRI)
	}
	if len(closed) == 0 {
		return nil
	}

	constr, err := e.constructionTarget(wp, opIRIs)
	if err != nil {
		return err
	}
	if err := e.upsert(ctx, domain.KindConstruction, e.constructionNode(constr), true); err != nil {
		return err
	}

	for _, ca := range closed {
		if err := e.upsert(ctx, domain.KindOperation, e.operationNode(ca.target), true); err != nil {
			return err
		}
		if err := e.link(ctx, func() (bool, error) {
			return e.Client.LinkConstructionToOperation(ctx, constr.IRI, ca.opIRI)
		}, domain.KindOperation, ca.opIRI); err != nil {
			return err
		}
		for _, task := range ca.act.Tasks {
			if task.AsBuilt == nil || !task.AsBuilt.Progress.Started() {
				continue
			}
			target, err := e.actionTarget(task)
			if err != nil {
				return err
			}
			target.ProcessEnd = latest
			if err := e.upsert(ctx, domain.KindAction, e.actionNode(target), true); err != nil {
				return err
			}
			if err := e.link(ctx, func() (bool, error) {
				return e.Client.LinkOperationToAction(ctx, ca.opIRI, target.IRI)
			}, domain.KindAction, target.IRI); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) link(ctx context.Context, call func() (bool, error), kind domain.Kind, iri string) error {
	ok, err := call()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRemoteWrite, iri)
	}
	e.journal(ctx, marker.OpLink, kind, iri)
	return nil
}

// startedActions derives the Action IRIs of every started Task under an
// Activity, plus the earliest observation among them.
func startedActions(namespace string, act *domain.Activity) ([]string, time.Time) {
	var iris []string
	var earliest time.Time
	for _, task := range act.Tasks {
		if task.AsBuilt == nil || !task.AsBuilt.Progress.Started() {
			continue
		}
		iris = append(iris, PerformedIRI(namespace, task.Node.IRI))
		if earliest.IsZero() || task.AsBuilt.Timestamp.Before(earliest) {
			earliest = task.AsBuilt.Timestamp
		}
	}
	return iris, earliest
}
