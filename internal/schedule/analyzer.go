package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
	"sitetrace/internal/domain"
	"sitetrace/internal/graph"
)

// OperationSource is the slice of the platform API the analyzer reads.
type OperationSource interface {
	OperationOf(ctx context.Context, activityIRI string) (graph.NodeSet, error)
}

// Analyzer classifies Activities against their plan using the existing
// as-performed graph; it never writes.
type Analyzer struct {
	Ops    OperationSource
	Config *config.Config
	Log    *log.Logger
}

// NewAnalyzer builds an analyzer over the given operation source.
func NewAnalyzer(ops OperationSource, cfg *config.Config, logger *log.Logger) *Analyzer {
	return &Analyzer{Ops: ops, Config: cfg, Log: logger}
}

// ActivityReport is the schedule verdict for one Activity. Days is -1
// for Activities that have not started and are not yet due.
type ActivityReport struct {
	WorkPackageIRI string                `json:"work_package_iri"`
	ActivityIRI    string                `json:"activity_iri"`
	Status         domain.ScheduleStatus `json:"status"`
	Days           int                   `json:"days"`
	Completion     float64               `json:"completion"`
	ProjectedDays  *int                  `json:"projected_days,omitempty"`

	// Carried for the KPI roll-up; zero OperationEnd means not started.
	PlannedStart time.Time `json:"-"`
	PlannedEnd   time.Time `json:"-"`
	OperationEnd time.Time `json:"-"`
}

type taskVerdict struct {
	status   domain.ScheduleStatus
	days     int
	complete bool
}

// Analyze produces one report per Activity across the whole tree. The
// tree must already carry resolved as-built records.
func (a *Analyzer) Analyze(ctx context.Context, tree *domain.Tree) ([]ActivityReport, error) {
	latest := tree.LatestScan()
	if latest.IsZero() {
		return nil, domain.ErrNoScanDate
	}
	var reports []ActivityReport
	for _, wp := range tree.WorkPackages {
		for _, act := range wp.Activities {
			report, err := a.analyzeActivity(ctx, wp.Node.IRI, act, latest)
			if err != nil {
				return nil, err
			}
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func (a *Analyzer) analyzeActivity(ctx context.Context, wpIRI string, act *domain.Activity, latest time.Time) (ActivityReport, error) {
	p := a.Config.MustPredicate
	actStart, ok := act.Node.TimeProp(p(config.PlannedStart))
	if !ok {
		return ActivityReport{}, fmt.Errorf("activity %s: missing planned start", act.Node.IRI)
	}
	actEnd, ok := act.Node.TimeProp(p(config.PlannedEnd))
	if !ok {
		return ActivityReport{}, fmt.Errorf("activity %s: missing planned end", act.Node.IRI)
	}
	report := ActivityReport{
		WorkPackageIRI: wpIRI,
		ActivityIRI:    act.Node.IRI,
		PlannedStart:   actStart,
		PlannedEnd:     actEnd,
	}

	ops, err := a.Ops.OperationOf(ctx, act.Node.IRI)
	if err != nil {
		return ActivityReport{}, err
	}
	if ops.Size == 0 {
		// Not started. Once the latest portfolio scan passes the
		// planned start the Activity is late by definition.
		if latest.After(actStart) {
			report.Status = domain.StatusBehind
			report.Days = daysBetween(actStart, latest)
			proj := daysBetween(actStart, actEnd) + report.Days
			report.ProjectedDays = &proj
		} else {
			report.Status = domain.StatusOn
			report.Days = -1
		}
		return report, nil
	}
	op := ops.Items[0]

	opStart, ok := op.TimeProp(p(config.ProcessStart))
	if !ok {
		opStart = actStart
	}
	opEnd, ok := op.TimeProp(p(config.ProcessEnd))
	if !ok {
		if opEnd, ok = op.TimeProp(p(config.LastUpdated)); !ok {
			opEnd = latest
		}
	}
	report.OperationEnd = opEnd

	var verdicts []taskVerdict
	for _, task := range act.Tasks {
		if task.AsBuilt == nil {
			continue
		}
		v, err := classifyTask(task.AsBuilt.Progress, actStart, actEnd, opStart, opEnd)
		if err != nil {
			return ActivityReport{}, fmt.Errorf("task %s: %w", task.Node.IRI, err)
		}
		verdicts = append(verdicts, v)
	}
	if len(verdicts) == 0 {
		report.Status = domain.StatusOn
		report.Days = -1
		return report, nil
	}

	report.Status = vote(verdicts)
	report.Days = maxDays(verdicts, report.Status)
	completeCount := 0
	for _, v := range verdicts {
		if v.complete {
			completeCount++
		}
	}
	report.Completion = float64(completeCount) / float64(len(verdicts)) * 100

	if report.Status == domain.StatusBehind && report.Completion < 100 {
		plannedDays := daysBetween(actStart, actEnd)
		maxBehind := maxDays(verdicts, domain.StatusBehind)
		if maxBehind < 0 {
			maxBehind = 0
		}
		elapsed := daysBetween(opStart, opEnd)
		var proj int
		if elapsed > 0 {
			proj = (completeCount / elapsed) * (plannedDays + maxBehind)
		} else {
			proj = plannedDays + report.Days
		}
		report.ProjectedDays = &proj
	}
	return report, nil
}

// classifyTask applies the per-progress rule table. Any progress with
// observed work compares planned end against actual end; zero progress
// compares the starts.
func classifyTask(p domain.Progress, actStart, actEnd, opStart, opEnd time.Time) (taskVerdict, error) {
	switch p {
	case domain.ProgressRebar, domain.ProgressFormwork, domain.ProgressComplete:
		v := taskVerdict{complete: true}
		switch {
		case actEnd.After(opEnd):
			v.status = domain.StatusAhead
			v.days = daysBetween(opEnd, actEnd)
		case actEnd.Before(opEnd):
			v.status = domain.StatusBehind
			v.days = daysBetween(actEnd, opEnd)
		default:
			v.status = domain.StatusOn
		}
		return v, nil
	case domain.ProgressNone:
		v := taskVerdict{}
		switch {
		case actStart.After(opStart):
			v.status = domain.StatusOn
			v.days = -1
		case actStart.Before(opStart):
			v.status = domain.StatusBehind
			v.days = daysBetween(actEnd, opEnd)
		default:
			v.status = domain.StatusOn
			v.days = -1
		}
		return v, nil
	default:
		return taskVerdict{}, fmt.Errorf("%w: %d", domain.ErrUnmappedProgress, int(p))
	}
}

// vote picks the majority status; ties fall to the first maximal
// candidate in the order ahead, behind, on.
func vote(verdicts []taskVerdict) domain.ScheduleStatus {
	counts := map[domain.ScheduleStatus]int{}
	for _, v := range verdicts {
		counts[v.status]++
	}
	best := domain.StatusOn
	bestCount := -1
	for _, cand := range []domain.ScheduleStatus{domain.StatusAhead, domain.StatusBehind, domain.StatusOn} {
		if counts[cand] > bestCount {
			best = cand
			bestCount = counts[cand]
		}
	}
	return best
}

// maxDays returns the largest day count among verdicts with the given
// status, or 0 when none match.
func maxDays(verdicts []taskVerdict, status domain.ScheduleStatus) int {
	found := false
	max := 0
	for _, v := range verdicts {
		if v.status != status {
			continue
		}
		if !found || v.days > max {
			max = v.days
			found = true
		}
	}
	return max
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
