package passport

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Finding codes reported by Diagnose.
const (
	FindingNoInitialStatus      = "NO_INITIAL_STATUS"
	FindingMultipleInitial      = "MULTIPLE_INITIAL_STATUSES"
	FindingNoFinalStatus        = "NO_FINAL_STATUS"
	FindingFinalUnreachable     = "NO_REACHABLE_FINAL_STATUS"
	FindingUnreachableStatus    = "UNREACHABLE_STATUS"
	FindingFinalHasOutgoing     = "FINAL_STATUS_HAS_OUTGOING"
	FindingDanglingTransition   = "DANGLING_TRANSITION"
	FindingUnparseableCondition = "UNPARSEABLE_CONDITION"
	SeverityWarning             = "warning"
	SeverityInfo                = "info"
)

// Finding is one observation about a status model.
type Finding struct {
	Code          string  `json:"code"`
	Severity      string  `json:"severity"`
	Message       string  `json:"message"`
	StatusIDs     []int64 `json:"statusIds,omitempty"`
	TransitionIDs []int64 `json:"transitionIds,omitempty"`
}

// Diagnostics summarises the shape of a passport's status graph. It never
// blocks writes: the model may be saved in any shape.
type Diagnostics struct {
	PassportID      int64     `json:"passportId"`
	StatusCount     int       `json:"statusCount"`
	TransitionCount int       `json:"transitionCount"`
	Findings        []Finding `json:"findings"`
}

// HasWarnings reports whether any finding has warning severity.
func (d *Diagnostics) HasWarnings() bool {
	for _, f := range d.Findings {
		if f.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Diagnose inspects a status graph. Reachability starts from the initial
// statuses; a wildcard transition makes its target reachable whenever
// anything is reachable.
func Diagnose(passportID int64, statuses []StatusDefinitionRecord, transitions []StatusTransitionRecord) *Diagnostics {
	d := &Diagnostics{
		PassportID:      passportID,
		StatusCount:     len(statuses),
		TransitionCount: len(transitions),
		Findings:        []Finding{},
	}
	if len(statuses) == 0 && len(transitions) == 0 {
		return d
	}

	all := mapset.NewThreadUnsafeSet[int64]()
	initial := mapset.NewThreadUnsafeSet[int64]()
	final := mapset.NewThreadUnsafeSet[int64]()
	for _, s := range statuses {
		all.Add(s.ID)
		if s.IsInitial {
			initial.Add(s.ID)
		}
		if s.IsFinal {
			final.Add(s.ID)
		}
	}

	switch initial.Cardinality() {
	case 0:
		d.add(Finding{Code: FindingNoInitialStatus, Severity: SeverityWarning,
			Message: "no status is marked initial"})
	case 1:
	default:
		d.add(Finding{Code: FindingMultipleInitial, Severity: SeverityInfo,
			Message:   fmt.Sprintf("%d statuses are marked initial", initial.Cardinality()),
			StatusIDs: mapset.Sorted(initial)})
	}
	if final.IsEmpty() {
		d.add(Finding{Code: FindingNoFinalStatus, Severity: SeverityWarning,
			Message: "no status is marked final"})
	}

	edges := map[int64][]int64{}
	wildcardTargets := mapset.NewThreadUnsafeSet[int64]()
	dangling := mapset.NewThreadUnsafeSet[int64]()
	outgoingFromFinal := mapset.NewThreadUnsafeSet[int64]()
	var unparseable []int64
	for _, t := range transitions {
		if !all.ContainsOne(t.ToStatusID) || (t.FromStatusID != nil && !all.ContainsOne(*t.FromStatusID)) {
			dangling.Add(t.ID)
			continue
		}
		if t.FromStatusID == nil {
			wildcardTargets.Add(t.ToStatusID)
		} else {
			edges[*t.FromStatusID] = append(edges[*t.FromStatusID], t.ToStatusID)
			if final.ContainsOne(*t.FromStatusID) {
				outgoingFromFinal.Add(t.ID)
			}
		}
		if t.Condition != "" {
			if _, err := ParseCondition(t.Condition); err != nil {
				unparseable = append(unparseable, t.ID)
			}
		}
	}

	reachable := reachableFrom(initial, wildcardTargets, edges)
	if unreachable := all.Difference(reachable); !initial.IsEmpty() && !unreachable.IsEmpty() {
		d.add(Finding{Code: FindingUnreachableStatus, Severity: SeverityWarning,
			Message:   fmt.Sprintf("%d status(es) cannot be reached from an initial status", unreachable.Cardinality()),
			StatusIDs: mapset.Sorted(unreachable)})
	}
	if !initial.IsEmpty() && !final.IsEmpty() && !reachable.ContainsAnyElement(final) {
		d.add(Finding{Code: FindingFinalUnreachable, Severity: SeverityWarning,
			Message: "no final status can be reached from an initial status"})
	}
	if !outgoingFromFinal.IsEmpty() {
		d.add(Finding{Code: FindingFinalHasOutgoing, Severity: SeverityInfo,
			Message:       "final statuses have outgoing transitions",
			TransitionIDs: mapset.Sorted(outgoingFromFinal)})
	}
	if !dangling.IsEmpty() {
		d.add(Finding{Code: FindingDanglingTransition, Severity: SeverityWarning,
			Message:       "transitions reference statuses that do not exist in this passport",
			TransitionIDs: mapset.Sorted(dangling)})
	}
	if len(unparseable) > 0 {
		d.add(Finding{Code: FindingUnparseableCondition, Severity: SeverityInfo,
			Message:       "guard conditions are prose, not machine-readable expressions",
			TransitionIDs: unparseable})
	}
	return d
}

func (d *Diagnostics) add(f Finding) {
	d.Findings = append(d.Findings, f)
}

func reachableFrom(start, wildcardTargets mapset.Set[int64], edges map[int64][]int64) mapset.Set[int64] {
	reachable := start.Clone()
	if reachable.IsEmpty() {
		return reachable
	}
	reachable = reachable.Union(wildcardTargets)
	queue := reachable.ToSlice()
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range edges[id] {
			if reachable.Add(next) {
				queue = append(queue, next)
			}
		}
	}
	return reachable
}
