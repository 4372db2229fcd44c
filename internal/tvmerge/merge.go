// Package tvmerge combines several already-built time-varying panels into
// one: per subject, the merged timeline splits at the union of all sources'
// breakpoints and carries every source's exposure value on each segment.
// Subjects missing from a source are dropped by the default inner join or,
// under force, kept with that source's reference value.
package tvmerge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"tvtools/internal/dataset"
	apperrors "tvtools/internal/errors"
	"tvtools/internal/infrastructure"
	"tvtools/internal/tvexpose"
)

// Source is one already-assembled time-varying panel to merge
type Source struct {
	// Table is the panel; each subject's rows must tile that source's
	// follow-up without gaps or overlaps
	Table *dataset.Table
	// Column bindings within the source table
	ID       string
	Start    string
	Stop     string
	Exposure string
	// Reference fills segments this source does not cover
	Reference string
	// Continuous marks a running-total exposure that must be rescaled
	// proportionally when a row is split at foreign breakpoints
	Continuous bool
}

// Options configures a merge run
type Options struct {
	// Generate renames the exposure variables in the output (one per
	// source); mutually exclusive with Prefix
	Generate []string
	// Prefix is prepended to every source's exposure variable name
	Prefix string
	// StartName and StopName name the output interval columns
	StartName string
	StopName  string
	// Keep lists covariates carried over from the sources; names colliding
	// across sources get a _dsK suffix
	Keep []string
	// Force widens subject coverage from the inner join (subjects present
	// in every source) to the union, treating missing sources as reference
	Force bool

	Check            bool
	ValidateCoverage bool
	ValidateOverlap  bool

	SaveAs   string
	Replace  bool
	ISODates bool
}

// Result is the outcome of a merge
type Result struct {
	Panel    *dataset.Table
	Stats    Stats
	Warnings []apperrors.Warning
}

// Stats aggregates merge diagnostics
type Stats struct {
	Sources  int
	Subjects int
	Rows     int
	// DroppedSubjects counts subjects excluded by the inner join
	DroppedSubjects int
}

// sourceRow is one interval of a prepared source
type sourceRow struct {
	start, stop int
	value       string
	keep        map[string]string
}

// prepared is one source indexed by subject
type prepared struct {
	src      Source
	outName  string
	bySubj   map[string][]sourceRow
	keepCols []string
}

// Merge combines 2..N time-varying panels over the union of their
// breakpoints, attaching every source's exposure value to each elementary
// segment.
func Merge(ctx context.Context, sources []Source, opts Options) (*Result, error) {
	if err := checkOptions(sources, &opts); err != nil {
		return nil, err
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	logger := infrastructure.LoggerWithContext(ctx)
	warns := apperrors.NewWarningCollector()

	preps, err := prepare(sources, &opts, warns)
	if err != nil {
		return nil, err
	}

	ids, dropped := subjectUniverse(preps, opts.Force)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("merge", "no subjects shared by all sources (use force for a union merge)")
	}
	for _, id := range dropped {
		warns.Add(apperrors.WarningUnknownSubject, id, "subject absent from at least one source, excluded by inner join")
	}

	logger.Info("merging time-varying panels",
		slog.Int("sources", len(sources)),
		slog.Int("subjects", len(ids)))

	res := &Result{Stats: Stats{Sources: len(sources), Subjects: len(ids), DroppedSubjects: len(dropped)}}
	table := dataset.New(outputColumns(preps, &opts)...)

	for _, id := range ids {
		rows := mergeSubject(id, preps, &opts, warns)
		for _, row := range rows {
			table.Rows = append(table.Rows, row)
			res.Stats.Rows++
		}
	}

	res.Panel = table
	res.Warnings = warns.List()

	if opts.Check {
		logger.Info("merge diagnostics",
			slog.Int("subjects", res.Stats.Subjects),
			slog.Int("rows", res.Stats.Rows),
			slog.Int("dropped_subjects", res.Stats.DroppedSubjects))
	}

	if opts.SaveAs != "" {
		if err := dataset.Write(opts.SaveAs, table, opts.Replace); err != nil {
			return nil, apperrors.NewIOError("save", err)
		}
	}

	return res, nil
}

// checkOptions validates the merge configuration before any data is read
func checkOptions(sources []Source, opts *Options) error {
	if len(sources) < 2 {
		return apperrors.NewConfigurationError("merge requires at least 2 sources")
	}
	if len(opts.Generate) > 0 && opts.Prefix != "" {
		return apperrors.NewConfigurationError("generate and prefix are mutually exclusive")
	}
	if len(opts.Generate) > 0 && len(opts.Generate) != len(sources) {
		return apperrors.NewConfigurationErrorf(
			"generate names %d sources, got %d", len(opts.Generate), len(sources))
	}
	for i, src := range sources {
		if src.Table == nil {
			return apperrors.NewConfigurationErrorf("source %d has no table", i+1)
		}
		if src.ID == "" || src.Start == "" || src.Stop == "" || src.Exposure == "" {
			return apperrors.NewConfigurationErrorf("source %d is missing a column binding", i+1)
		}
	}
	if opts.StartName == "" {
		opts.StartName = "start"
	}
	if opts.StopName == "" {
		opts.StopName = "stop"
	}

	seen := make(map[string]int)
	for i := range sources {
		name := exposureOutName(sources, opts, i)
		if prev, ok := seen[name]; ok {
			return apperrors.NewConfigurationErrorf(
				"output exposure name %q collides between sources %d and %d", name, prev+1, i+1)
		}
		seen[name] = i
	}
	return nil
}

func exposureOutName(sources []Source, opts *Options, i int) string {
	if len(opts.Generate) > 0 {
		return opts.Generate[i]
	}
	return opts.Prefix + sources[i].Exposure
}

// prepare indexes each source by subject and resolves covariate columns
func prepare(sources []Source, opts *Options, warns *apperrors.WarningCollector) ([]prepared, error) {
	// Covariates present in more than one source collide and get _dsK
	keepCount := make(map[string]int)
	for _, kvar := range opts.Keep {
		for _, src := range sources {
			if src.Table.HasColumn(kvar) {
				keepCount[kvar]++
			}
		}
	}
	for _, kvar := range opts.Keep {
		if keepCount[kvar] == 0 {
			warns.Add(apperrors.WarningDroppedRecord, "", "keep variable %q not found in any source", kvar)
		}
	}

	preps := make([]prepared, len(sources))
	for i, src := range sources {
		if err := src.Table.RequireColumns(src.ID, src.Start, src.Stop, src.Exposure); err != nil {
			return nil, apperrors.NewValidationErrorf("merge", "source %d: %s", i+1, err.Error())
		}

		p := prepared{src: src, outName: exposureOutName(sources, opts, i), bySubj: make(map[string][]sourceRow)}
		for _, kvar := range opts.Keep {
			if !src.Table.HasColumn(kvar) {
				continue
			}
			name := kvar
			if keepCount[kvar] > 1 {
				name = fmt.Sprintf("%s_ds%d", kvar, i+1)
			}
			p.keepCols = append(p.keepCols, name)
		}

		for _, row := range src.Table.Rows {
			id := row[src.ID]
			start, err := dataset.ParseDate(row[src.Start])
			if err != nil {
				warns.Add(apperrors.WarningDroppedRecord, id, "source %d: unparseable start %q", i+1, row[src.Start])
				continue
			}
			stop, err := dataset.ParseDate(row[src.Stop])
			if err != nil {
				warns.Add(apperrors.WarningDroppedRecord, id, "source %d: unparseable stop %q", i+1, row[src.Stop])
				continue
			}
			if stop <= start {
				warns.Add(apperrors.WarningDroppedRecord, id, "source %d: empty interval [%d,%d)", i+1, start, stop)
				continue
			}

			sr := sourceRow{start: start, stop: stop, value: row[src.Exposure]}
			if len(p.keepCols) > 0 {
				sr.keep = make(map[string]string, len(p.keepCols))
				j := 0
				for _, kvar := range opts.Keep {
					if !src.Table.HasColumn(kvar) {
						continue
					}
					sr.keep[p.keepCols[j]] = row[kvar]
					j++
				}
			}
			p.bySubj[id] = append(p.bySubj[id], sr)
		}

		for id := range p.bySubj {
			rows := p.bySubj[id]
			sort.Slice(rows, func(a, b int) bool { return rows[a].start < rows[b].start })
		}
		preps[i] = p
	}
	return preps, nil
}

// subjectUniverse computes the merged subject set: intersection by default,
// union under force. Returns the kept ids (sorted) and the dropped ones.
func subjectUniverse(preps []prepared, force bool) (kept, dropped []string) {
	count := make(map[string]int)
	for _, p := range preps {
		for id := range p.bySubj {
			count[id]++
		}
	}

	for id, n := range count {
		if force || n == len(preps) {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	sort.Strings(kept)
	sort.Strings(dropped)
	return kept, dropped
}

// mergeSubject re-splits one subject's timeline at the union of all
// sources' breakpoints and attaches every source's value to each segment.
func mergeSubject(id string, preps []prepared, opts *Options, warns *apperrors.WarningCollector) []dataset.Row {
	// One span per source row; remember which source each span belongs to
	var spans [][2]int
	var owner []int
	var rowRef []sourceRow
	for i, p := range preps {
		for _, sr := range p.bySubj[id] {
			spans = append(spans, [2]int{sr.start, sr.stop})
			owner = append(owner, i)
			rowRef = append(rowRef, sr)
		}
	}

	segments := tvexpose.Sweep(spans)
	if len(segments) == 0 {
		return nil
	}

	type merged struct {
		start, stop int
		values      map[string]string
	}

	var out []merged
	uncovered := make([]bool, len(preps))
	for _, seg := range segments {
		values := make(map[string]string, len(preps))

		// Segment value per source: the covering row, or reference.
		// Later rows within a source win, matching their sort order.
		covering := make([]*sourceRow, len(preps))
		for _, idx := range seg.Active {
			if opts.ValidateOverlap && covering[owner[idx]] != nil {
				warns.Add(apperrors.WarningOverlapDetected, id,
					"source %d has overlapping rows at day %d", owner[idx]+1, seg.Start)
			}
			sr := rowRef[idx]
			covering[owner[idx]] = &sr
		}

		for i, p := range preps {
			sr := covering[i]
			if sr == nil {
				values[p.outName] = p.src.Reference
				uncovered[i] = true
				continue
			}
			if p.src.Continuous {
				values[p.outName] = rescaleContinuous(sr, seg.Start, seg.Stop)
			} else {
				values[p.outName] = sr.value
			}
			for col, v := range sr.keep {
				values[col] = v
			}
		}

		// Coalesce adjacent identical-valued segments
		if n := len(out); n > 0 && out[n-1].stop == seg.Start && equalValues(out[n-1].values, values) {
			out[n-1].stop = seg.Stop
			continue
		}
		out = append(out, merged{start: seg.Start, stop: seg.Stop, values: values})
	}

	for i, u := range uncovered {
		if u {
			warns.Add(apperrors.WarningMissingSourceTime, id,
				"source %d does not cover the full merged timeline, reference used", i+1)
		}
	}

	if opts.ValidateCoverage {
		for i := 1; i < len(out); i++ {
			if out[i].start != out[i-1].stop {
				warns.Add(apperrors.WarningGapDetected, id,
					"merged rows leave a gap [%d,%d)", out[i-1].stop, out[i].start)
			}
		}
	}

	rows := make([]dataset.Row, len(out))
	for i, m := range out {
		row := make(dataset.Row, len(m.values)+3)
		row[preps[0].src.ID] = id
		if opts.ISODates {
			row[opts.StartName] = dataset.FormatDate(m.start)
			row[opts.StopName] = dataset.FormatDate(m.stop)
		} else {
			row[opts.StartName] = fmt.Sprintf("%d", m.start)
			row[opts.StopName] = fmt.Sprintf("%d", m.stop)
		}
		for k, v := range m.values {
			row[k] = v
		}
		rows[i] = row
	}
	return rows
}

// rescaleContinuous allocates a running-total value proportionally to the
// share of the original row covered by the segment.
func rescaleContinuous(sr *sourceRow, segStart, segStop int) string {
	v, err := parseFloat(sr.value)
	if err != nil {
		return sr.value
	}
	origDur := sr.stop - sr.start
	if origDur <= 0 {
		return sr.value
	}
	scaled := v * float64(segStop-segStart) / float64(origDur)
	return formatFloat(scaled)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func equalValues(a, b map[string]string) bool {
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

// outputColumns fixes the merged panel column order
func outputColumns(preps []prepared, opts *Options) []string {
	cols := []string{preps[0].src.ID, opts.StartName, opts.StopName}
	for _, p := range preps {
		cols = append(cols, p.outName)
	}
	for _, p := range preps {
		cols = append(cols, p.keepCols...)
	}
	return cols
}
