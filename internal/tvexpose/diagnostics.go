package tvexpose

import (
	"log/slog"
	"sort"
)

// report emits the requested diagnostic summaries. All of these are
// informational: they never mutate the panel.
func (r *Runner) report(res *Result, opts *Options, logger *slog.Logger) {
	if opts.Check {
		covered := 0.0
		if res.Stats.ExpectedPersonTime > 0 {
			covered = 100 * float64(res.Stats.ActualPersonTime) / float64(res.Stats.ExpectedPersonTime)
		}
		logger.Info("coverage summary",
			slog.Int("subjects", res.Stats.Subjects),
			slog.Int("records", res.Stats.Records),
			slog.Int("dropped_records", res.Stats.DroppedRecords),
			slog.Int("expected_person_days", res.Stats.ExpectedPersonTime),
			slog.Int("actual_person_days", res.Stats.ActualPersonTime),
			slog.Float64("pct_covered", covered))
	}

	if opts.Gaps {
		logger.Info("gap report",
			slog.Int("gaps_detected", res.Stats.Gaps))
	}

	if opts.Overlaps {
		logger.Info("overlap report",
			slog.Int("overlapping_segments", res.Stats.Overlaps))
	}

	if opts.Summarize {
		r.summarize(res, opts, logger)
	}
}

// summarize logs the person-time distribution across exposure categories
// and per-subject person-time percentiles.
func (r *Runner) summarize(res *Result, opts *Options, logger *slog.Logger) {
	col := opts.outputVar()

	byValue := make(map[string]int)
	bySubject := make(map[string]int)
	for _, row := range res.Rows {
		byValue[row.Values[col]] += row.Duration()
		bySubject[row.SubjectID] += row.Duration()
	}

	values := make([]string, 0, len(byValue))
	for v := range byValue {
		values = append(values, v)
	}
	sort.Strings(values)
	for _, v := range values {
		share := 0.0
		if res.Stats.ActualPersonTime > 0 {
			share = 100 * float64(byValue[v]) / float64(res.Stats.ActualPersonTime)
		}
		logger.Info("exposure distribution",
			slog.String("category", v),
			slog.Int("person_days", byValue[v]),
			slog.Float64("pct", share))
	}

	times := make([]int, 0, len(bySubject))
	for _, t := range bySubject {
		times = append(times, t)
	}
	sort.Ints(times)
	logger.Info("person-time percentiles",
		slog.Int("p25", percentile(times, 25)),
		slog.Int("p50", percentile(times, 50)),
		slog.Int("p75", percentile(times, 75)))
}

// percentile returns the nearest-rank percentile of sorted values
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
