package tvexpose

// tile merges a subject's resolved intervals with the follow-up window:
// baseline, interior-gap and post-exposure reference segments are inserted
// so the result exactly tiles [entry, exit) with no gaps and no overlaps.
// A subject with no surviving exposure is reference throughout.
func tile(sub Subject, intervals []Interval, opts *Options, stats *subjectStats) []Interval {
	ref := func(start, stop int) Interval {
		return Interval{Start: start, Stop: stop, Value: opts.Reference}
	}

	if len(intervals) == 0 {
		return []Interval{ref(sub.Entry, sub.Exit)}
	}

	out := make([]Interval, 0, 2*len(intervals)+1)
	if intervals[0].Start > sub.Entry {
		out = append(out, ref(sub.Entry, intervals[0].Start))
	}
	for i, iv := range intervals {
		if i > 0 {
			if gap := iv.Start - intervals[i-1].Stop; gap > 0 {
				stats.Gaps++
				out = append(out, ref(intervals[i-1].Stop, iv.Start))
			}
		}
		out = append(out, iv)
	}
	if last := intervals[len(intervals)-1]; last.Stop < sub.Exit {
		out = append(out, ref(last.Stop, sub.Exit))
	}
	return out
}

// coalesceRows merges adjacent rows carrying identical derived values.
// Row-count minimization is part of the output contract: re-running this
// on its own output changes nothing.
func coalesceRows(rows []PanelRow) []PanelRow {
	if len(rows) == 0 {
		return rows
	}
	out := rows[:1]
	for _, row := range rows[1:] {
		last := &out[len(out)-1]
		if last.SubjectID == row.SubjectID && last.Stop == row.Start && sameValues(last.Values, row.Values) {
			last.Stop = row.Stop
			continue
		}
		out = append(out, row)
	}
	return out
}

func sameValues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// broadcast attaches retained covariates and, when requested, the entry and
// exit dates to every row of a subject.
func broadcast(sub Subject, rows []PanelRow, opts *Options) []PanelRow {
	if len(opts.KeepVars) == 0 && !opts.KeepDates {
		return rows
	}
	for i := range rows {
		for _, v := range opts.KeepVars {
			rows[i].Values[v] = sub.Covariates[v]
		}
		if opts.KeepDates {
			rows[i].Values[opts.Entry] = formatInt(sub.Entry)
			rows[i].Values[opts.Exit] = formatInt(sub.Exit)
		}
	}
	return rows
}
