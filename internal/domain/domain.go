package domain

import (
	"errors"
	"fmt"
	"time"

	"sitetrace/internal/graph"
)

// ErrUnmappedProgress marks a scan progress value outside the sensor
// vocabulary. Runs must stop rather than guess what the sensor meant.
var ErrUnmappedProgress = errors.New("unmapped progress value")

// ErrNoScanDate aborts passes that need at least one observation in the
// portfolio.
var ErrNoScanDate = errors.New("no scan date observed")

// Progress is a sensor-reported completion code for one Element.
type Progress int

const (
	ProgressNone     Progress = 0
	ProgressRebar    Progress = 33
	ProgressFormwork Progress = 66
	ProgressComplete Progress = 100
)

// ParseProgress maps a raw attribute value onto the sensor vocabulary.
func ParseProgress(v any) (Progress, error) {
	var code int
	switch raw := v.(type) {
	case float64:
		code = int(raw)
	case int:
		code = raw
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnmappedProgress, v)
	}
	switch p := Progress(code); p {
	case ProgressNone, ProgressRebar, ProgressFormwork, ProgressComplete:
		return p, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnmappedProgress, code)
	}
}

// Started reports whether any physical work has been observed.
func (p Progress) Started() bool { return p != ProgressNone }

// Complete reports whether the Element reached its final state.
func (p Progress) Complete() bool { return p == ProgressComplete }

// Kind identifies one of the three as-performed node kinds.
type Kind int

const (
	KindAction Kind = iota
	KindOperation
	KindConstruction
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindOperation:
		return "operation"
	case KindConstruction:
		return "construction"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AsBuilt is one reality-capture observation of an Element.
type AsBuilt struct {
	IRI       string
	Progress  Progress
	Timestamp time.Time
}

// Task is a planned work item targeting exactly one Element. AsBuilt is
// nil until resolution runs, and stays nil for unscanned Elements.
type Task struct {
	Node    graph.Node
	Element *graph.Node
	AsBuilt *AsBuilt
}

// Activity is a planned schedule item owning Tasks.
type Activity struct {
	Node  graph.Node
	Tasks []*Task
}

// WorkPackage is the top planned grouping.
type WorkPackage struct {
	Node       graph.Node
	Activities []*Activity
}

// Tree is the full planned hierarchy for one run, shared by the
// reconciler, the precondition sweep and the schedule analytics.
type Tree struct {
	WorkPackages []*WorkPackage
}

// LatestScan returns the most recent as-built timestamp anywhere in the
// portfolio, or the zero time when nothing has been scanned yet.
func (t *Tree) LatestScan() time.Time {
	var latest time.Time
	for _, wp := range t.WorkPackages {
		for _, act := range wp.Activities {
			for _, task := range act.Tasks {
				if task.AsBuilt != nil && task.AsBuilt.Timestamp.After(latest) {
					latest = task.AsBuilt.Timestamp
				}
			}
		}
	}
	return latest
}

// ScheduleStatus classifies an Activity against its plan.
type ScheduleStatus string

const (
	StatusAhead  ScheduleStatus = "ahead"
	StatusBehind ScheduleStatus = "behind"
	StatusOn     ScheduleStatus = "on"
)

// ActionTarget is the desired state of one as-performed Action. Zero
// times mean the field stays unset on the remote node.
type ActionTarget struct {
	IRI          string
	TaskIRI      string
	AsBuiltIRI   string
	TaskType     string
	Contractor   string
	ProcessStart time.Time
	ProcessEnd   time.Time
}

// OperationTarget is the desired state of one as-performed Operation.
// ProcessEnd stays zero until every tracked Action is complete.
type OperationTarget struct {
	IRI          string
	ActivityIRI  string
	TaskType     string
	ActionIRIs   []string
	ProcessStart time.Time
	LastUpdated  time.Time
	ProcessEnd   time.Time
}

// ConstructionTarget is the desired state of one as-performed
// Construction. Constructions carry no time fields of their own.
type ConstructionTarget struct {
	IRI              string
	WorkPackageIRI   string
	ProductionMethod string
	OperationIRIs    []string
}
