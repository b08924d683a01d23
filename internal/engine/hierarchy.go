package engine

import (
	"context"
	"fmt"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
)

// LoadHierarchy reads the full planned tree from the platform. Planned
// nodes are fetched exactly once per run; the returned tree is shared
// by reconciliation, the precondition sweep and schedule analytics.
func (e *Engine) LoadHierarchy(ctx context.Context) (*domain.Tree, error) {
	wps, err := e.Client.WorkPackages(ctx)
	if err != nil {
		return nil, err
	}
	tree := &domain.Tree{}
	for _, wpNode := range wps.Items {
		wp := &domain.WorkPackage{Node: wpNode}
		acts, err := e.Client.ActivitiesOf(ctx, wpNode.IRI)
		if err != nil {
			return nil, err
		}
		for _, actNode := range acts.Items {
			act := &domain.Activity{Node: actNode}
			tasks, err := e.Client.TasksOf(ctx, actNode.IRI)
			if err != nil {
				return nil, err
			}
			for _, taskNode := range tasks.Items {
				task := &domain.Task{Node: taskNode}
				elems, err := e.Client.ElementsOf(ctx, taskNode.IRI)
				if err != nil {
					return nil, err
				}
				switch elems.Size {
				case 0:
					// Planned but not modeled; nothing to observe.
				case 1:
					task.Element = &elems.Items[0]
				default:
					e.Log.Warn("task targets multiple elements, using first",
						"task", taskNode.IRI, "count", elems.Size)
					task.Element = &elems.Items[0]
				}
				act.Tasks = append(act.Tasks, task)
			}
			wp.Activities = append(wp.Activities, act)
		}
		tree.WorkPackages = append(tree.WorkPackages, wp)
	}
	return tree, nil
}

// ResolveAsBuilt attaches the single usable scan record to every Task
// that has one. An Element linked to more than one record is an
// integrity fault in the source store: it is logged with the element
// and count, and the Task keeps no record rather than trusting either.
func (e *Engine) ResolveAsBuilt(ctx context.Context, tree *domain.Tree) error {
	for _, wp := range tree.WorkPackages {
		for _, act := range wp.Activities {
			for _, task := range act.Tasks {
				if task.Element == nil {
					continue
				}
				records, err := e.Client.AsBuiltOf(ctx, task.Element.IRI)
				if err != nil {
					return err
				}
				switch records.Size {
				case 0:
					continue
				case 1:
				default:
					e.Log.Warn("element has multiple as-built records, skipping",
						"element", task.Element.IRI, "count", records.Size)
					continue
				}
				record := records.Items[0]
				progress := domain.ProgressNone
				if raw, ok := record.Props[e.Config.MustPredicate(config.Progress)]; ok {
					progress, err = domain.ParseProgress(raw)
					if err != nil {
						return fmt.Errorf("as-built %s: %w", record.IRI, err)
					}
				}
				ts, err := requireTime(record, e.Config.MustPredicate(config.TimeStamp))
				if err != nil {
					return err
				}
				task.AsBuilt = &domain.AsBuilt{
					IRI:       record.IRI,
					Progress:  progress,
					Timestamp: ts,
				}
			}
		}
	}
	return nil
}
