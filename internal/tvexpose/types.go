package tvexpose

import "sort"

// Subject is one cohort member. Entry and Exit are days since the Unix
// epoch; follow-up is the half-open window [Entry, Exit).
type Subject struct {
	ID         string
	Entry      int
	Exit       int
	Covariates map[string]string
}

// FollowUp returns the subject's total follow-up time in days
func (s Subject) FollowUp() int {
	return s.Exit - s.Entry
}

// Record is one raw exposure episode (a prescription or, in point-time
// mode, a single event). Intervals are half-open: [Start, Stop).
type Record struct {
	SubjectID string
	Start     int
	Stop      int
	Value     string
	// Dose is the daily dose rate; zero unless a dose column was bound
	Dose float64
}

// Interval is an elementary exposure segment within one subject: within a
// subject, intervals are pairwise non-overlapping and sorted by Start.
type Interval struct {
	Start int
	Stop  int
	// Value is the resolved exposure-state label
	Value string
	// Types lists the exposure-type labels active during the segment,
	// sorted. Empty for reference segments.
	Types []string
	// Dose is the summed daily dose rate of the active records
	Dose float64
}

// Exposed reports whether the interval carries any non-reference exposure
func (iv Interval) Exposed() bool {
	return len(iv.Types) > 0
}

// HasType reports whether the given exposure type is active in the interval
func (iv Interval) HasType(t string) bool {
	for _, v := range iv.Types {
		if v == t {
			return true
		}
	}
	return false
}

// Duration returns the interval length in days
func (iv Interval) Duration() int {
	return iv.Stop - iv.Start
}

// sameState reports whether two intervals carry an identical exposure state
// and may be coalesced when adjacent.
func sameState(a, b Interval) bool {
	if a.Value != b.Value || a.Dose != b.Dose || len(a.Types) != len(b.Types) {
		return false
	}
	for i := range a.Types {
		if a.Types[i] != b.Types[i] {
			return false
		}
	}
	return true
}

// PanelRow is one output row: a maximal segment of constant derived
// exposure state within a subject's follow-up.
type PanelRow struct {
	SubjectID string
	Start     int
	Stop      int
	// Values holds the derived exposure variable(s) and any retained
	// covariates, keyed by output column name
	Values map[string]string
}

// Duration returns the row length in days
func (r PanelRow) Duration() int {
	return r.Stop - r.Start
}

// uniqueSorted returns the sorted distinct values of a string slice
func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
