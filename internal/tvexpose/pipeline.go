package tvexpose

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tvtools/internal/dataset"
	apperrors "tvtools/internal/errors"
	"tvtools/internal/infrastructure"
)

// Runner executes panel-construction runs
type Runner struct {
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry
}

// NewRunner returns a Runner using the global logger and no telemetry
func NewRunner() *Runner {
	return &Runner{Logger: infrastructure.GetLogger()}
}

// Result is the outcome of one run
type Result struct {
	// Panel is the output table: one contiguous, gap-free row sequence per
	// subject covering the whole follow-up
	Panel *dataset.Table
	// Rows is the typed view of the panel
	Rows []PanelRow
	// Stats aggregates diagnostic counters across all subjects
	Stats RunStats
	// Warnings lists the data-quality findings, deterministically ordered
	Warnings []apperrors.Warning
	// Coverage is the secondary validation table, present under validate
	Coverage *dataset.Table

	subjects []Subject
}

// RunStats aggregates diagnostic counters. All fields are plain sums, so
// aggregation over the worker pool is order-independent.
type RunStats struct {
	Subjects int
	// Records counts the exposure records that parsed cleanly; unreadable
	// rows surface as warnings, in-window drops as DroppedRecords.
	Records        int
	DroppedRecords int
	Gaps           int
	Overlaps       int
	Rows           int
	// Person-time in days, summed over subjects
	ExpectedPersonTime int
	ActualPersonTime   int
}

// subjectStats holds the per-subject diagnostic counters
type subjectStats struct {
	DroppedRecords int
	Gaps           int
	Overlaps       int
}

// subjectResult carries one subject's output back from the worker pool
type subjectResult struct {
	subject Subject
	rows    []PanelRow
	stats   subjectStats
}

// Run builds the time-varying exposure panel from a cohort table and an
// exposure table. Configuration and validation errors abort before any
// output is produced; data-quality issues accumulate as warnings and never
// block other subjects.
func (r *Runner) Run(ctx context.Context, cohort, exposures *dataset.Table, opts Options) (*Result, error) {
	opts = opts.normalized()
	if err := opts.CheckValid(); err != nil {
		return nil, err
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	runID := uuid.New().String()
	logger := r.Logger.With(slog.String("run_id", runID))

	logger.Info("starting panel construction",
		slog.Int("cohort_rows", cohort.Len()),
		slog.Int("exposure_rows", exposures.Len()))

	warns := apperrors.NewWarningCollector()

	subjects, err := r.parseCohort(ctx, runID, cohort, &opts, warns)
	if err != nil {
		return nil, err
	}

	records, err := r.parseExposures(ctx, runID, exposures, subjects, &opts, warns)
	if err != nil {
		return nil, err
	}

	allTypes := collectTypes(records, opts.Reference)

	results, err := r.processSubjects(ctx, runID, subjects, records, &opts, allTypes, warns)
	if err != nil {
		return nil, err
	}

	result := r.assemble(results, &opts, allTypes, warns)
	for _, recs := range records {
		result.Stats.Records += len(recs)
	}
	result.Warnings = warns.List()

	if err := r.verifyPersonTime(result, &opts, warns, logger); err != nil {
		return nil, err
	}
	result.Warnings = warns.List()

	r.report(result, &opts, logger)

	if opts.SaveAs != "" {
		if err := dataset.Write(opts.SaveAs, result.Panel, opts.Replace); err != nil {
			return nil, apperrors.NewIOError("save", err)
		}
	}

	logger.Info("panel construction complete",
		slog.Int("subjects", result.Stats.Subjects),
		slog.Int("rows", result.Stats.Rows),
		slog.Int("warnings", len(result.Warnings)))

	return result, nil
}

// parseCohort converts the cohort table to subjects, dropping zero-length
// follow-up and duplicate ids with warnings.
func (r *Runner) parseCohort(ctx context.Context, runID string, cohort *dataset.Table, opts *Options, warns *apperrors.WarningCollector) ([]Subject, error) {
	if r.Telemetry != nil {
		_, span := r.Telemetry.StartStage(ctx, runID, "normalize")
		defer r.Telemetry.EndStage(span, nil)
	}

	required := []string{opts.ID, opts.Entry, opts.Exit}
	required = append(required, opts.KeepVars...)
	if err := cohort.RequireColumns(required...); err != nil {
		return nil, apperrors.NewValidationError("cohort", err.Error())
	}

	seen := make(map[string]bool)
	var subjects []Subject
	for _, row := range cohort.Rows {
		id := row[opts.ID]
		if id == "" {
			warns.Add(apperrors.WarningDroppedRecord, "", "cohort row with empty id dropped")
			continue
		}
		if seen[id] {
			if opts.Strict {
				return nil, apperrors.NewIntegrityError("cohort", "duplicate subject id "+id)
			}
			warns.Add(apperrors.WarningDroppedRecord, id, "duplicate cohort row dropped")
			continue
		}

		entry, err := dataset.ParseDate(row[opts.Entry])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable entry date %q", row[opts.Entry])
			continue
		}
		exit, err := dataset.ParseDate(row[opts.Exit])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable exit date %q", row[opts.Exit])
			continue
		}

		if entry > exit {
			warns.Add(apperrors.WarningDroppedRecord, id, "entry %d after exit %d", entry, exit)
			continue
		}
		if entry == exit {
			// Zero-length follow-up: excluded by policy, counted, never fatal.
			warns.Add(apperrors.WarningZeroFollowUp, id, "entry equals exit (%d)", entry)
			continue
		}

		seen[id] = true
		sub := Subject{ID: id, Entry: entry, Exit: exit}
		if len(opts.KeepVars) > 0 {
			sub.Covariates = make(map[string]string, len(opts.KeepVars))
			for _, v := range opts.KeepVars {
				sub.Covariates[v] = row[v]
			}
		}
		subjects = append(subjects, sub)
	}

	if len(subjects) == 0 {
		return nil, apperrors.NewValidationError("cohort", "cohort has zero usable subjects")
	}

	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	return subjects, nil
}

// parseExposures converts the exposure table to records grouped by subject.
// Rows referencing unknown subjects are fatal in strict mode, otherwise
// silently discarded with a warning.
func (r *Runner) parseExposures(ctx context.Context, runID string, exposures *dataset.Table, subjects []Subject, opts *Options, warns *apperrors.WarningCollector) (map[string][]Record, error) {
	required := []string{opts.ID, opts.Start, opts.Exposure}
	if !opts.PointTime {
		required = append(required, opts.Stop)
	}
	if opts.DoseVar != "" {
		required = append(required, opts.DoseVar)
	}
	if err := exposures.RequireColumns(required...); err != nil {
		return nil, apperrors.NewValidationError("exposure", err.Error())
	}

	known := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		known[s.ID] = true
	}

	records := make(map[string][]Record)
	for _, row := range exposures.Rows {
		id := row[opts.ID]
		if !known[id] {
			if opts.Strict {
				return nil, apperrors.NewValidationErrorf("exposure",
					"subject %q not found in cohort table", id)
			}
			warns.Add(apperrors.WarningUnknownSubject, id, "exposure row for unknown subject discarded")
			continue
		}

		start, err := dataset.ParseDate(row[opts.Start])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable start date %q", row[opts.Start])
			continue
		}
		stop := start
		if !opts.PointTime {
			stop, err = dataset.ParseDate(row[opts.Stop])
			if err != nil {
				warns.Add(apperrors.WarningDroppedRecord, id, "unparseable stop date %q", row[opts.Stop])
				continue
			}
		}

		rec := Record{SubjectID: id, Start: start, Stop: stop, Value: row[opts.Exposure]}
		if opts.DoseVar != "" {
			d, err := parseFloat(row[opts.DoseVar])
			if err != nil {
				warns.Add(apperrors.WarningDroppedRecord, id, "unparseable dose %q", row[opts.DoseVar])
				continue
			}
			rec.Dose = d
		}
		records[id] = append(records[id], rec)
	}

	return records, nil
}

// processSubjects fans the per-subject pipeline out over a worker pool.
// Results land in a fixed slot per subject, so output order never depends
// on scheduling.
func (r *Runner) processSubjects(ctx context.Context, runID string, subjects []Subject, records map[string][]Record, opts *Options, allTypes []string, warns *apperrors.WarningCollector) ([]subjectResult, error) {
	var endStage func(error)
	if r.Telemetry != nil {
		c, span := r.Telemetry.StartStage(ctx, runID, "resolve")
		ctx = c
		endStage = func(err error) { r.Telemetry.EndStage(span, err) }
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]subjectResult, len(subjects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, sub := range subjects {
		i, sub := i, sub
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			rows, stats := processSubject(sub, records[sub.ID], opts, allTypes, warns)
			results[i] = subjectResult{subject: sub, rows: rows, stats: stats}
			return nil
		})
	}

	err := g.Wait()
	if endStage != nil {
		endStage(err)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// processSubject runs the pure per-subject pipeline:
// normalize -> transform -> resolve -> close gaps -> tile -> derive.
func processSubject(sub Subject, recs []Record, opts *Options, allTypes []string, warns *apperrors.WarningCollector) ([]PanelRow, subjectStats) {
	var stats subjectStats

	if opts.PointTime {
		recs = expandPointEvents(recs, opts.CarryForward)
	}
	recs = normalizeRecords(sub, recs, warns, &stats)
	recs = applyRecordTransforms(sub, recs, opts)

	ivs := resolveOverlaps(recs, opts, &stats)
	ivs = applyGrace(ivs, opts)
	if !opts.PointTime {
		// In point-time mode carryforward is consumed by event expansion
		ivs = applyCarryForward(sub, ivs, opts.CarryForward)
	}
	ivs = applyFillGaps(sub, ivs, opts.FillGaps)

	tiled := tile(sub, ivs, opts, &stats)
	rows := deriveRows(sub, tiled, opts, allTypes)
	rows = coalesceRows(rows)
	addPatternColumns(rows, opts)
	rows = broadcast(sub, rows, opts)

	return rows, stats
}

// assemble flattens per-subject results into the output panel
func (r *Runner) assemble(results []subjectResult, opts *Options, allTypes []string, warns *apperrors.WarningCollector) *Result {
	res := &Result{}

	columns := outputColumns(opts, allTypes)
	table := dataset.New(columns...)

	for _, sr := range results {
		res.subjects = append(res.subjects, sr.subject)
		res.Stats.Subjects++
		res.Stats.DroppedRecords += sr.stats.DroppedRecords
		res.Stats.Gaps += sr.stats.Gaps
		res.Stats.Overlaps += sr.stats.Overlaps
		res.Stats.ExpectedPersonTime += sr.subject.FollowUp()

		for _, row := range sr.rows {
			res.Stats.Rows++
			res.Stats.ActualPersonTime += row.Duration()
			res.Rows = append(res.Rows, row)
			table.Rows = append(table.Rows, panelRowToTableRow(row, opts))
		}
	}

	res.Panel = table
	return res
}

// verifyPersonTime checks the conservation invariant per subject: output
// person-time must equal exit-entry within tolerance. Deviation is a
// warning by default and fatal under strict diagnostics.
func (r *Runner) verifyPersonTime(res *Result, opts *Options, warns *apperrors.WarningCollector, logger *slog.Logger) error {
	perSubject := make(map[string]int)
	for _, row := range res.Rows {
		perSubject[row.SubjectID] += row.Duration()
	}

	coverage := dataset.New("id", "expected_days", "actual_days", "deviation")
	var failed bool
	for _, sr := range res.subjects {
		actual := perSubject[sr.ID]
		deviation := actual - sr.FollowUp()
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > opts.Tolerance {
			failed = true
			warns.Add(apperrors.WarningPersonTimeMisfit, sr.ID,
				"person-time %d deviates from follow-up %d", actual, sr.FollowUp())
			logger.Warn("person-time deviation",
				slog.String("subject", sr.ID),
				slog.Int("actual", actual),
				slog.Int("expected", sr.FollowUp()))
		}
		coverage.Append(dataset.Row{
			"id":            sr.ID,
			"expected_days": formatInt(sr.FollowUp()),
			"actual_days":   formatInt(actual),
			"deviation":     formatInt(actual - sr.FollowUp()),
		})
	}

	if opts.Validate {
		res.Coverage = coverage
	}
	if failed && opts.Strict {
		return apperrors.NewIntegrityError("assemble",
			"person-time conservation violated beyond tolerance")
	}
	return nil
}

// outputColumns fixes the panel column order
func outputColumns(opts *Options, allTypes []string) []string {
	cols := []string{opts.ID, "start", "stop"}
	if opts.KeepDates {
		cols = append(cols, opts.Entry, opts.Exit)
	}
	cols = append(cols, opts.outputVar())
	if opts.Split {
		for _, t := range allTypes {
			cols = append(cols, opts.Generate+"_"+sanitizeLabel(t))
		}
	}
	if opts.ByType {
		stub := byTypeStub(opts)
		for _, t := range allTypes {
			cols = append(cols, stub+sanitizeLabel(t))
		}
	}
	if opts.Switching {
		cols = append(cols, "has_switched")
	}
	if opts.SwitchingDetail {
		cols = append(cols, "switching_pattern")
	}
	if opts.StateTime {
		cols = append(cols, "statetime")
	}
	cols = append(cols, opts.KeepVars...)
	return cols
}

// panelRowToTableRow renders one typed row for the output table
func panelRowToTableRow(row PanelRow, opts *Options) dataset.Row {
	out := make(dataset.Row, len(row.Values)+3)
	out[opts.ID] = row.SubjectID
	if opts.ISODates {
		out["start"] = dataset.FormatDate(row.Start)
		out["stop"] = dataset.FormatDate(row.Stop)
	} else {
		out["start"] = formatInt(row.Start)
		out["stop"] = formatInt(row.Stop)
	}
	for k, v := range row.Values {
		out[k] = v
	}
	return out
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// collectTypes gathers the distinct non-reference exposure-type labels
// across all records, sorted for stable column order.
func collectTypes(records map[string][]Record, reference string) []string {
	var labels []string
	for _, recs := range records {
		for _, rec := range recs {
			if rec.Value != reference {
				labels = append(labels, rec.Value)
			}
		}
	}
	return uniqueSorted(labels)
}
