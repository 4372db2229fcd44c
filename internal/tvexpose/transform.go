package tvexpose

// expandPointEvents turns instantaneous events into exposure episodes of n
// days. It runs before normalization so the zero-length raw records survive
// the empty-record drop.
func expandPointEvents(records []Record, n int) []Record {
	for i := range records {
		records[i].Stop = records[i].Start + n
	}
	return records
}

// applyRecordTransforms adjusts episode bounds before overlap resolution:
// lag, washout and the acute exposure window. Records emptied by a transform
// are removed. Bounds stay within follow-up.
func applyRecordTransforms(sub Subject, records []Record, opts *Options) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if opts.HasWindow {
			// Exposure counts only inside the acute window offset from the
			// episode start; everything outside reverts to reference.
			rec.Stop = rec.Start + opts.WindowMax
			rec.Start += opts.WindowMin
		}

		if opts.Lag > 0 {
			// The pre-lag window remains at the prior state.
			rec.Start += opts.Lag
		}
		if opts.Washout > 0 {
			rec.Stop += opts.Washout
		}

		if rec.Start < sub.Entry {
			rec.Start = sub.Entry
		}
		if rec.Stop > sub.Exit {
			rec.Stop = sub.Exit
		}
		if rec.Start >= rec.Stop {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// applyGrace closes gaps between consecutive same-state intervals that are
// no longer than the grace threshold for the state's category, treating the
// gap as continuous exposure.
func applyGrace(intervals []Interval, opts *Options) []Interval {
	if opts.Grace == 0 && len(opts.GraceByType) == 0 {
		return intervals
	}
	for i := 0; i+1 < len(intervals); i++ {
		cur, next := &intervals[i], &intervals[i+1]
		if !sameState(*cur, *next) {
			continue
		}
		gap := next.Start - cur.Stop
		if gap > 0 && gap <= opts.graceFor(cur.Value) {
			cur.Stop = next.Start
		}
	}
	return coalesceIntervals(intervals)
}

// applyCarryForward extends each exposed interval through a following gap
// by at most n days, explicitly carrying the last known non-reference state.
func applyCarryForward(sub Subject, intervals []Interval, n int) []Interval {
	if n <= 0 {
		return intervals
	}
	for i := range intervals {
		if !intervals[i].Exposed() {
			continue
		}
		limit := sub.Exit
		if i+1 < len(intervals) {
			limit = intervals[i+1].Start
		}
		gap := limit - intervals[i].Stop
		if gap <= 0 {
			continue
		}
		if gap > n {
			gap = n
		}
		intervals[i].Stop += gap
	}
	return coalesceIntervals(intervals)
}

// applyFillGaps assumes exposure continues n days beyond the final episode
func applyFillGaps(sub Subject, intervals []Interval, n int) []Interval {
	if n <= 0 || len(intervals) == 0 {
		return intervals
	}
	last := &intervals[len(intervals)-1]
	if !last.Exposed() {
		return intervals
	}
	last.Stop += n
	if last.Stop > sub.Exit {
		last.Stop = sub.Exit
	}
	return intervals
}
