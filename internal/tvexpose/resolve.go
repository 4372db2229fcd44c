package tvexpose

import "strings"

// resolveOverlaps converts a subject's normalized, transform-adjusted
// records into non-overlapping elementary intervals under the configured
// overlap policy. Adjacent segments with identical resolved state are merged.
func resolveOverlaps(records []Record, opts *Options, stats *subjectStats) []Interval {
	if len(records) == 0 {
		return nil
	}

	spans := make([][2]int, len(records))
	for i, rec := range records {
		spans[i] = [2]int{rec.Start, rec.Stop}
	}

	var intervals []Interval
	for _, seg := range Sweep(spans) {
		if len(seg.Active) > 1 {
			stats.Overlaps++
		}

		active := make([]Record, len(seg.Active))
		for i, idx := range seg.Active {
			active[i] = records[idx]
		}

		iv := Interval{Start: seg.Start, Stop: seg.Stop}
		switch {
		case len(opts.Priority) > 0:
			win := priorityWinner(active, opts.Priority)
			iv.Value = win.Value
			iv.Types = []string{win.Value}
			iv.Dose = win.Dose
		default:
			// layer, split and combine all resolve the segment to the
			// combination of simultaneously active type labels; they differ
			// only in how the panel emits the state downstream.
			labels := make([]string, len(active))
			for i, rec := range active {
				labels[i] = rec.Value
				iv.Dose += rec.Dose
			}
			iv.Types = uniqueSorted(labels)
			iv.Value = strings.Join(iv.Types, "+")
		}
		intervals = append(intervals, iv)
	}

	return coalesceIntervals(intervals)
}

// priorityWinner picks the active record whose label ranks highest in the
// caller-supplied priority order. Labels absent from the order rank below
// all listed ones; ties break on the label for determinism.
func priorityWinner(active []Record, order []string) Record {
	rank := func(v string) int {
		for i, p := range order {
			if p == v {
				return i
			}
		}
		return len(order)
	}

	best := active[0]
	bestRank := rank(best.Value)
	for _, rec := range active[1:] {
		r := rank(rec.Value)
		if r < bestRank || (r == bestRank && rec.Value < best.Value) {
			best = rec
			bestRank = r
		}
	}
	return best
}

// coalesceIntervals merges adjacent intervals sharing an identical resolved
// state. Running it on its own output is a no-op.
func coalesceIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return intervals
	}
	out := intervals[:1]
	for _, iv := range intervals[1:] {
		last := &out[len(out)-1]
		if last.Stop == iv.Start && sameState(*last, iv) {
			last.Stop = iv.Stop
			continue
		}
		out = append(out, iv)
	}
	return out
}
