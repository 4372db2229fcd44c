// Package tvevent integrates outcome events into a time-varying panel:
// rows split at event dates, the row ending at an event carries a failure
// indicator, and follow-up after the first event is censored unless
// recurring events are requested. Competing risks resolve to the earliest
// event, coded by its type index.
package tvevent

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"tvtools/internal/dataset"
	apperrors "tvtools/internal/errors"
	"tvtools/internal/infrastructure"
)

// DefaultGenerate names the failure indicator column when none is given
const DefaultGenerate = "_failure"

// Options configures event integration into a time-varying panel
type Options struct {
	// Panel column bindings
	ID    string
	Start string
	Stop  string

	// Event table column bindings. EventType is only read when
	// CompetingTypes is set.
	EventID   string
	EventDate string
	EventType string

	// Generate names the failure indicator column
	Generate string

	// Recurring keeps follow-up after each event; the default censors a
	// subject at the first event
	Recurring bool

	// CompetingTypes enables competing-risks coding: the indicator carries
	// the 1-based index of the event's type instead of 1. The earliest
	// event across all types wins under censoring.
	CompetingTypes []string

	// Continuous lists running-total columns rescaled proportionally when
	// a row is split at an event date
	Continuous []string

	// TimeGen names an analysis-time column measured from the subject's
	// first interval start to each row's stop; TimeUnit is days, months
	// or years
	TimeGen     string
	TimeUnit    string
	DaysPerYear float64

	Check    bool
	SaveAs   string
	Replace  bool
	ISODates bool
}

// Result is the outcome of an event integration run
type Result struct {
	Panel    *dataset.Table
	Stats    Stats
	Warnings []apperrors.Warning
}

// Stats aggregates event integration diagnostics
type Stats struct {
	Subjects      int
	Events        int
	Flagged       int
	CensoredRows  int
	SkippedEvents int
}

type event struct {
	date     int
	typeCode int
}

type interval struct {
	start, stop int
	row         dataset.Row
}

// Run splits a panel's rows at event dates and emits a failure indicator
// on every row that ends at an event.
func Run(ctx context.Context, panel, events *dataset.Table, opts Options) (*Result, error) {
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	if err := panel.RequireColumns(opts.ID, opts.Start, opts.Stop); err != nil {
		return nil, apperrors.NewValidationError("events", err.Error())
	}
	evCols := []string{opts.EventID, opts.EventDate}
	if len(opts.CompetingTypes) > 0 {
		evCols = append(evCols, opts.EventType)
	}
	if err := events.RequireColumns(evCols...); err != nil {
		return nil, apperrors.NewValidationError("events", err.Error())
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	logger := infrastructure.LoggerWithContext(ctx)
	warns := apperrors.NewWarningCollector()

	byID, order, err := parsePanel(panel, &opts, warns)
	if err != nil {
		return nil, err
	}
	evByID := parseEvents(events, &opts, warns)

	res := &Result{}
	out := dataset.New(outputColumns(panel, &opts)...)

	for _, id := range order {
		ivs := byID[id]
		res.Stats.Subjects++
		subjEvents := evByID[id]
		res.Stats.Events += len(subjEvents)
		rows := integrateSubject(id, ivs, subjEvents, &opts, &res.Stats, warns)
		out.Rows = append(out.Rows, rows...)
	}

	for id, evs := range evByID {
		if _, ok := byID[id]; !ok {
			res.Stats.SkippedEvents += len(evs)
			warns.Add(apperrors.WarningUnknownSubject, id, "%d event(s) for a subject absent from the panel", len(evs))
		}
	}

	res.Panel = out
	res.Warnings = warns.List()

	if opts.Check {
		logger.Info("event integration diagnostics",
			slog.Int("subjects", res.Stats.Subjects),
			slog.Int("events", res.Stats.Events),
			slog.Int("flagged_rows", res.Stats.Flagged),
			slog.Int("censored_rows", res.Stats.CensoredRows),
			slog.Int("skipped_events", res.Stats.SkippedEvents))
	}

	if opts.SaveAs != "" {
		if err := dataset.Write(opts.SaveAs, out, opts.Replace); err != nil {
			return nil, apperrors.NewIOError("save", err)
		}
	}
	return res, nil
}

func checkOptions(opts *Options) error {
	if opts.Generate == "" {
		opts.Generate = DefaultGenerate
	}
	if opts.ID == "" || opts.Start == "" || opts.Stop == "" {
		return apperrors.NewConfigurationError("panel id, start and stop bindings are required")
	}
	if opts.EventID == "" || opts.EventDate == "" {
		return apperrors.NewConfigurationError("event id and date bindings are required")
	}
	if len(opts.CompetingTypes) > 0 && opts.EventType == "" {
		return apperrors.NewConfigurationError("competing risks require an event type binding")
	}
	if opts.TimeGen != "" {
		switch opts.TimeUnit {
		case "", "days", "months", "years":
		default:
			return apperrors.NewConfigurationErrorf("invalid time unit %q", opts.TimeUnit)
		}
	}
	if opts.DaysPerYear == 0 {
		opts.DaysPerYear = 365.25
	}
	return nil
}

// parsePanel groups the panel's rows by subject, sorted by start.
// The subject order of first appearance is preserved for output.
func parsePanel(panel *dataset.Table, opts *Options, warns *apperrors.WarningCollector) (map[string][]interval, []string, error) {
	byID := make(map[string][]interval)
	var order []string
	for _, row := range panel.Rows {
		id := row[opts.ID]
		start, err := dataset.ParseDate(row[opts.Start])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable start %q", row[opts.Start])
			continue
		}
		stop, err := dataset.ParseDate(row[opts.Stop])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable stop %q", row[opts.Stop])
			continue
		}
		if stop <= start {
			warns.Add(apperrors.WarningDroppedRecord, id, "empty interval [%d,%d)", start, stop)
			continue
		}
		if _, ok := byID[id]; !ok {
			order = append(order, id)
		}
		byID[id] = append(byID[id], interval{start: start, stop: stop, row: row})
	}
	if len(byID) == 0 {
		return nil, nil, apperrors.NewValidationError("events", "panel has no usable rows")
	}
	for id := range byID {
		ivs := byID[id]
		sort.Slice(ivs, func(a, b int) bool { return ivs[a].start < ivs[b].start })
	}
	return byID, order, nil
}

func parseEvents(events *dataset.Table, opts *Options, warns *apperrors.WarningCollector) map[string][]event {
	typeIndex := make(map[string]int, len(opts.CompetingTypes))
	for i, t := range opts.CompetingTypes {
		typeIndex[t] = i + 1
	}

	byID := make(map[string][]event)
	for _, row := range events.Rows {
		id := row[opts.EventID]
		date, err := dataset.ParseDate(row[opts.EventDate])
		if err != nil {
			warns.Add(apperrors.WarningDroppedRecord, id, "unparseable event date %q", row[opts.EventDate])
			continue
		}
		ev := event{date: date, typeCode: 1}
		if len(opts.CompetingTypes) > 0 {
			code, ok := typeIndex[row[opts.EventType]]
			if !ok {
				warns.Add(apperrors.WarningDroppedRecord, id, "unknown event type %q", row[opts.EventType])
				continue
			}
			ev.typeCode = code
		}
		byID[id] = append(byID[id], ev)
	}
	for id := range byID {
		evs := byID[id]
		sort.Slice(evs, func(a, b int) bool {
			if evs[a].date != evs[b].date {
				return evs[a].date < evs[b].date
			}
			return evs[a].typeCode < evs[b].typeCode
		})
	}
	return byID
}

// integrateSubject splits one subject's rows at its event dates and flags
// each row ending at an event. Under censoring only the first event is
// applied and later rows are dropped.
func integrateSubject(id string, ivs []interval, evs []event, opts *Options, stats *Stats, warns *apperrors.WarningCollector) []dataset.Row {
	entry := ivs[0].start
	exit := ivs[len(ivs)-1].stop

	// Flag date -> winning type code. Under censoring only the earliest
	// event inside follow-up counts.
	flags := make(map[int]int)
	censorAt := -1
	for _, ev := range evs {
		if ev.date <= entry || ev.date > exit {
			stats.SkippedEvents++
			warns.Add(apperrors.WarningOutOfWindow, id, "event at day %d outside follow-up (%d,%d]", ev.date, entry, exit)
			continue
		}
		if _, dup := flags[ev.date]; dup {
			continue
		}
		flags[ev.date] = ev.typeCode
		if !opts.Recurring {
			censorAt = ev.date
			break
		}
	}

	// Split rows at event dates strictly inside them
	var points []int
	for d := range flags {
		points = append(points, d)
	}
	sort.Ints(points)
	split := splitIntervals(ivs, points, opts)

	var out []dataset.Row
	for _, iv := range split {
		if censorAt >= 0 && iv.start >= censorAt {
			stats.CensoredRows++
			continue
		}
		row := cloneRow(iv.row)
		if opts.ISODates {
			row[opts.Start] = dataset.FormatDate(iv.start)
			row[opts.Stop] = dataset.FormatDate(iv.stop)
		} else {
			row[opts.Start] = strconv.Itoa(iv.start)
			row[opts.Stop] = strconv.Itoa(iv.stop)
		}
		if code, ok := flags[iv.stop]; ok {
			row[opts.Generate] = strconv.Itoa(code)
			stats.Flagged++
		} else {
			row[opts.Generate] = "0"
		}
		if opts.TimeGen != "" {
			row[opts.TimeGen] = formatFloat(float64(iv.stop-entry) / timeDivisor(opts))
		}
		out = append(out, row)
	}
	return out
}

// splitIntervals cuts rows at the given points, rescaling continuous
// columns proportionally to the share of the original row kept.
func splitIntervals(ivs []interval, points []int, opts *Options) []interval {
	var out []interval
	for _, iv := range ivs {
		cur := iv
		for _, p := range points {
			if p <= cur.start || p >= cur.stop {
				continue
			}
			left := interval{start: cur.start, stop: p, row: rescaleRow(cur, cur.start, p, opts)}
			out = append(out, left)
			cur = interval{start: p, stop: cur.stop, row: rescaleRow(cur, p, cur.stop, opts)}
		}
		out = append(out, cur)
	}
	return out
}

// rescaleRow clones a row's values for a sub-interval, scaling continuous
// columns by duration share.
func rescaleRow(iv interval, start, stop int, opts *Options) dataset.Row {
	row := cloneRow(iv.row)
	if len(opts.Continuous) == 0 {
		return row
	}
	origDur := iv.stop - iv.start
	if origDur <= 0 {
		return row
	}
	frac := float64(stop-start) / float64(origDur)
	for _, col := range opts.Continuous {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
		if err != nil {
			continue
		}
		row[col] = formatFloat(v * frac)
	}
	return row
}

func timeDivisor(opts *Options) float64 {
	switch opts.TimeUnit {
	case "months":
		return opts.DaysPerYear / 12
	case "years":
		return opts.DaysPerYear
	default:
		return 1
	}
}

func cloneRow(row dataset.Row) dataset.Row {
	out := make(dataset.Row, len(row)+2)
	for k, v := range row {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func outputColumns(panel *dataset.Table, opts *Options) []string {
	cols := append([]string(nil), panel.Columns...)
	cols = append(cols, opts.Generate)
	if opts.TimeGen != "" {
		cols = append(cols, opts.TimeGen)
	}
	return cols
}
