package schedule

import (
	"time"

	"sitetrace/internal/domain"
)

// WorkPackageKPI is the portfolio roll-up for one WorkPackage.
type WorkPackageKPI struct {
	WorkPackageIRI       string  `json:"work_package_iri"`
	Activities           int     `json:"activities"`
	Delayed              int     `json:"delayed"`
	TotalDays            int     `json:"total_days"`
	BehindDays           int     `json:"behind_days"`
	DelayDayRatio        float64 `json:"delay_day_ratio"`
	DelayedActivityRatio float64 `json:"delayed_activity_ratio"`
}

// AggregateKPIs rolls Activity reports up to their WorkPackages.
// latest is the portfolio-wide scan date; swept names WorkPackages the
// construction-close sweep already processed, whose reference date is
// pinned to the Operation end instead of the scan date.
func AggregateKPIs(reports []ActivityReport, latest time.Time, swept map[string]bool) ([]WorkPackageKPI, error) {
	if latest.IsZero() {
		return nil, domain.ErrNoScanDate
	}
	var order []string
	byWP := map[string]*WorkPackageKPI{}
	for _, r := range reports {
		kpi, ok := byWP[r.WorkPackageIRI]
		if !ok {
			kpi = &WorkPackageKPI{WorkPackageIRI: r.WorkPackageIRI}
			byWP[r.WorkPackageIRI] = kpi
			order = append(order, r.WorkPackageIRI)
		}

		ref := latest
		if swept[r.WorkPackageIRI] {
			if !r.OperationEnd.IsZero() {
				ref = r.OperationEnd
			}
		} else if r.OperationEnd.After(ref) {
			ref = r.OperationEnd
		}

		kpi.Activities++
		kpi.TotalDays += daysBetween(r.PlannedStart, ref)
		if delay := daysBetween(r.PlannedEnd, ref); delay > 0 {
			kpi.BehindDays += delay
			kpi.Delayed++
		}
	}

	out := make([]WorkPackageKPI, 0, len(order))
	for _, iri := range order {
		kpi := byWP[iri]
		if kpi.BehindDays > 0 && kpi.TotalDays > 0 {
			kpi.DelayDayRatio = float64(kpi.BehindDays) / float64(kpi.TotalDays)
		}
		if kpi.Activities > 0 {
			kpi.DelayedActivityRatio = float64(kpi.Delayed) / float64(kpi.Activities)
		}
		out = append(out, *kpi)
	}
	return out, nil
}
