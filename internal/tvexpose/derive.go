package tvexpose

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// deriveRows maps a subject's tiled elementary intervals to output rows
// carrying the requested derived representation. Cumulative measures start
// at zero at entry and never carry across subjects. Representations whose
// value changes inside a constant-exposure segment (duration, recency and
// dose categories) split the segment at the category boundaries.
func deriveRows(sub Subject, tiled []Interval, opts *Options, allTypes []string) []PanelRow {
	switch {
	case len(opts.DurationCuts) > 0:
		tiled = splitAt(tiled, durationCutDays(tiled, opts, ""))
	case len(opts.RecencyCuts) > 0:
		tiled = splitAt(tiled, recencyCutDays(tiled, opts, ""))
	case opts.Dose && len(opts.DoseCuts) > 0:
		tiled = splitAt(tiled, doseCutDays(tiled, opts))
	}
	if opts.ByType {
		var points []int
		for _, t := range allTypes {
			if len(opts.DurationCuts) > 0 {
				points = append(points, durationCutDays(tiled, opts, t)...)
			}
			if len(opts.RecencyCuts) > 0 {
				points = append(points, recencyCutDays(tiled, opts, t)...)
			}
		}
		tiled = splitAt(tiled, points)
	}

	rows := make([]PanelRow, len(tiled))
	for i, iv := range tiled {
		rows[i] = PanelRow{
			SubjectID: sub.ID,
			Start:     iv.Start,
			Stop:      iv.Stop,
			Values:    make(map[string]string),
		}
	}

	annotateMain(rows, tiled, opts)

	if opts.Split {
		for _, t := range allTypes {
			col := opts.Generate + "_" + sanitizeLabel(t)
			for i, iv := range tiled {
				rows[i].Values[col] = indicator(iv.HasType(t))
			}
		}
	}

	if opts.ByType {
		stub := byTypeStub(opts)
		for _, t := range allTypes {
			col := stub + sanitizeLabel(t)
			annotateByType(rows, tiled, opts, t, col)
		}
	}

	return rows
}

// annotateMain fills the main derived output column
func annotateMain(rows []PanelRow, tiled []Interval, opts *Options) {
	col := opts.outputVar()
	exposed := func(iv Interval) bool { return iv.Exposed() }

	switch {
	case opts.EverTreated:
		annotateEver(rows, tiled, col, exposed)
	case opts.CurrentFormer:
		annotateCurrentFormer(rows, tiled, col, exposed)
	case len(opts.DurationCuts) > 0:
		annotateDurationCuts(rows, tiled, opts, col, exposed)
	case opts.ContinuousUnit != "":
		annotateContinuous(rows, tiled, opts, col, exposed)
	case len(opts.RecencyCuts) > 0:
		annotateRecency(rows, tiled, opts, col, exposed)
	case opts.Dose:
		annotateDose(rows, tiled, opts, col)
	default:
		for i, iv := range tiled {
			rows[i].Values[col] = iv.Value
		}
	}
}

// annotateByType fills one per-type output column
func annotateByType(rows []PanelRow, tiled []Interval, opts *Options, typ, col string) {
	exposed := func(iv Interval) bool { return iv.HasType(typ) }

	switch {
	case opts.EverTreated:
		annotateEver(rows, tiled, col, exposed)
	case opts.CurrentFormer:
		annotateCurrentFormer(rows, tiled, col, exposed)
	case len(opts.DurationCuts) > 0:
		annotateDurationCuts(rows, tiled, opts, col, exposed)
	case opts.ContinuousUnit != "":
		annotateContinuous(rows, tiled, opts, col, exposed)
	case len(opts.RecencyCuts) > 0:
		annotateRecency(rows, tiled, opts, col, exposed)
	default:
		for i, iv := range tiled {
			rows[i].Values[col] = indicator(exposed(iv))
		}
	}
}

// annotateEver derives the binary ever/never representation. The value is
// non-decreasing within a subject: once exposed, always "ever".
func annotateEver(rows []PanelRow, tiled []Interval, col string, exposed func(Interval) bool) {
	ever := false
	for i, iv := range tiled {
		if exposed(iv) {
			ever = true
		}
		rows[i].Values[col] = indicator(ever)
	}
}

// annotateCurrentFormer derives never(0)/current(1)/former(2)
func annotateCurrentFormer(rows []PanelRow, tiled []Interval, col string, exposed func(Interval) bool) {
	seen := false
	for i, iv := range tiled {
		switch {
		case exposed(iv):
			seen = true
			rows[i].Values[col] = "1"
		case seen:
			rows[i].Values[col] = "2"
		default:
			rows[i].Values[col] = "0"
		}
	}
}

// annotateContinuous derives the running exposed time in the chosen unit,
// valued at the end of each row. Monotonic non-decreasing within a subject.
func annotateContinuous(rows []PanelRow, tiled []Interval, opts *Options, col string, exposed func(Interval) bool) {
	div := opts.unitDivisor(opts.ContinuousUnit)
	cum := 0
	for i, iv := range tiled {
		if exposed(iv) {
			cum += iv.Duration()
		}
		rows[i].Values[col] = formatFloat(float64(cum) / div)
	}
}

// annotateDurationCuts buckets the running exposed time against the
// caller's cutpoints. Category 0 is unexposed-so-far; crossing a cutpoint
// mid-segment lands in the next category because segments were split at the
// crossing days beforehand.
func annotateDurationCuts(rows []PanelRow, tiled []Interval, opts *Options, col string, exposed func(Interval) bool) {
	div := opts.unitDivisor(durationUnit(opts))
	cum := 0
	for i, iv := range tiled {
		if exposed(iv) {
			cum += iv.Duration()
		}
		rows[i].Values[col] = formatInt(bucket(float64(cum)/div, opts.DurationCuts))
	}
}

// annotateRecency derives the time-since-last-exposure category: reference
// while never exposed, 1 while exposed, then buckets 2..n+2 by elapsed
// years since the most recent exposure end.
func annotateRecency(rows []PanelRow, tiled []Interval, opts *Options, col string, exposed func(Interval) bool) {
	lastStop := -1
	for i, iv := range tiled {
		switch {
		case exposed(iv):
			lastStop = iv.Stop
			rows[i].Values[col] = "1"
		case lastStop < 0:
			rows[i].Values[col] = opts.Reference
		default:
			years := float64(iv.Start-lastStop) / opts.DaysPerYear
			cat := len(opts.RecencyCuts) + 2
			for j, cut := range opts.RecencyCuts {
				if years < cut {
					cat = j + 2
					break
				}
			}
			rows[i].Values[col] = formatInt(cat)
		}
	}
}

// annotateDose derives the cumulative dose (daily rate times days), either
// as a running total or bucketed against dosecuts.
func annotateDose(rows []PanelRow, tiled []Interval, opts *Options, col string) {
	cum := 0.0
	for i, iv := range tiled {
		cum += iv.Dose * float64(iv.Duration())
		if len(opts.DoseCuts) > 0 {
			rows[i].Values[col] = formatInt(bucket(cum, opts.DoseCuts))
		} else {
			rows[i].Values[col] = formatFloat(cum)
		}
	}
}

// bucket maps an end-of-row cumulative value to a category: 0 when the
// value is zero, i+1 for cuts[i-1] < value <= cuts[i], len(cuts)+1 above
// the last cutpoint. Rows are pre-split at cut-crossing days, so a row
// ending exactly on a cutpoint spent its whole duration below it.
func bucket(value float64, cuts []float64) int {
	if value <= 0 {
		return 0
	}
	for i, cut := range cuts {
		if value <= cut {
			return i + 1
		}
	}
	return len(cuts) + 1
}

// durationCutDays returns the days at which the running exposed time (for
// one type, or overall when typ is empty) crosses a duration cutpoint.
func durationCutDays(tiled []Interval, opts *Options, typ string) []int {
	div := opts.unitDivisor(durationUnit(opts))
	cutDays := make([]float64, len(opts.DurationCuts))
	for i, c := range opts.DurationCuts {
		cutDays[i] = c * div
	}

	var points []int
	cum := 0
	for _, iv := range tiled {
		if !exposedTo(iv, typ) {
			continue
		}
		endCum := cum + iv.Duration()
		for _, cd := range cutDays {
			if float64(cum) < cd && cd < float64(endCum) {
				points = append(points, iv.Start+int(math.Ceil(cd-float64(cum))))
			}
		}
		cum = endCum
	}
	return points
}

// recencyCutDays returns the days at which a former-exposure segment
// crosses a recency cutpoint.
func recencyCutDays(tiled []Interval, opts *Options, typ string) []int {
	var points []int
	lastStop := -1
	for _, iv := range tiled {
		if exposedTo(iv, typ) {
			lastStop = iv.Stop
			continue
		}
		if lastStop < 0 {
			continue
		}
		for _, cut := range opts.RecencyCuts {
			day := lastStop + int(math.Ceil(cut*opts.DaysPerYear))
			if iv.Start < day && day < iv.Stop {
				points = append(points, day)
			}
		}
	}
	return points
}

// doseCutDays returns the days at which the cumulative dose crosses a
// dosecut inside a constant-rate segment.
func doseCutDays(tiled []Interval, opts *Options) []int {
	var points []int
	cum := 0.0
	for _, iv := range tiled {
		if iv.Dose <= 0 {
			continue
		}
		endCum := cum + iv.Dose*float64(iv.Duration())
		for _, cut := range opts.DoseCuts {
			if cum < cut && cut < endCum {
				points = append(points, iv.Start+int(math.Ceil((cut-cum)/iv.Dose)))
			}
		}
		cum = endCum
	}
	return points
}

// exposedTo reports exposure overall (typ == "") or to one type
func exposedTo(iv Interval, typ string) bool {
	if typ == "" {
		return iv.Exposed()
	}
	return iv.HasType(typ)
}

// splitAt inserts interval boundaries at the given days, preserving state
func splitAt(tiled []Interval, points []int) []Interval {
	if len(points) == 0 {
		return tiled
	}
	sort.Ints(points)
	points = dedupInts(points)

	out := make([]Interval, 0, len(tiled)+len(points))
	for _, iv := range tiled {
		for _, p := range points {
			if iv.Start < p && p < iv.Stop {
				head := iv
				head.Stop = p
				out = append(out, head)
				iv.Start = p
			}
		}
		out = append(out, iv)
	}
	return out
}

// addPatternColumns attaches the switching indicator, switching pattern and
// state-time columns after final coalescing.
func addPatternColumns(rows []PanelRow, opts *Options) {
	if len(rows) == 0 || (!opts.Switching && !opts.SwitchingDetail && !opts.StateTime) {
		return
	}
	col := opts.outputVar()

	if opts.Switching || opts.SwitchingDetail {
		distinct := make(map[string]struct{})
		var pattern []string
		for _, r := range rows {
			v := r.Values[col]
			distinct[v] = struct{}{}
			if len(pattern) == 0 || pattern[len(pattern)-1] != v {
				pattern = append(pattern, v)
			}
		}
		for i := range rows {
			if opts.Switching {
				rows[i].Values["has_switched"] = indicator(len(distinct) > 1)
			}
			if opts.SwitchingDetail {
				rows[i].Values["switching_pattern"] = strings.Join(pattern, "->")
			}
		}
	}

	if opts.StateTime {
		run := 0
		for i := range rows {
			if i > 0 && rows[i-1].Values[col] != rows[i].Values[col] {
				run = 0
			}
			run += rows[i].Duration()
			rows[i].Values["statetime"] = formatInt(run)
		}
	}
}

// durationUnit returns the unit used for duration bucketing (years unless
// a continuous unit was given alongside the cutpoints)
func durationUnit(opts *Options) string {
	if opts.ContinuousUnit != "" {
		return opts.ContinuousUnit
	}
	return "years"
}

// byTypeStub names per-type columns the way the representation suggests
// when the caller kept the default output name
func byTypeStub(opts *Options) string {
	if opts.Generate != DefaultGenerate {
		return opts.Generate
	}
	switch {
	case opts.EverTreated:
		return "ever"
	case opts.CurrentFormer:
		return "cf"
	case len(opts.DurationCuts) > 0:
		return "duration"
	case opts.ContinuousUnit != "":
		return "tv_exp"
	case len(opts.RecencyCuts) > 0:
		return "recency"
	default:
		return "exp"
	}
}

// sanitizeLabel turns an exposure-type label into a column-name suffix
func sanitizeLabel(label string) string {
	r := strings.NewReplacer("-", "neg", ".", "p", " ", "_", "+", "_")
	return r.Replace(label)
}

func indicator(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
