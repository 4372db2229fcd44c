package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"tvtools/internal/config"
	"tvtools/internal/dataset"
	"tvtools/internal/infrastructure"
	"tvtools/internal/tvexpose"
)

func main() {
	cohortPath := flag.String("cohort", "", "cohort file (.csv or .xlsx) with one row per subject")
	exposuresPath := flag.String("exposures", "", "exposure records file (.csv or .xlsx)")

	id := flag.String("id", "id", "subject identifier column (both files)")
	entry := flag.String("entry", "entry", "cohort entry date column")
	exit := flag.String("exit", "exit", "cohort exit date column")
	start := flag.String("start", "start", "exposure start date column")
	stop := flag.String("stop", "stop", "exposure stop date column")
	exposure := flag.String("exposure", "exposure", "exposure value column")
	doseVar := flag.String("dosevar", "", "daily dose rate column")
	reference := flag.String("reference", "0", "reference exposure level for unexposed time")
	generate := flag.String("generate", "", "output exposure column name (default tv_exposure)")

	layer := flag.Bool("layer", false, "resolve overlaps by layering combination labels")
	priority := flag.String("priority", "", "resolve overlaps by priority (comma-separated rank order)")
	split := flag.Bool("split", false, "resolve overlaps into per-type indicator columns")
	combine := flag.String("combine", "", "resolve overlaps into a composite label in the named column")

	grace := flag.Int("grace", 0, "close gaps of at most this many days between same-state intervals")
	graceMap := flag.String("gracemap", "", "per-category grace overrides, e.g. A=30,B=14")
	lag := flag.Int("lag", 0, "delay exposure onset by this many days")
	washout := flag.Int("washout", 0, "extend exposure past each stop by this many days")
	fillGaps := flag.Int("fillgaps", 0, "extend the last exposed interval by this many days")
	carryForward := flag.Int("carryforward", 0, "carry exposure forward across gaps up to this many days")
	pointTime := flag.Bool("pointtime", false, "treat records as point events (requires -carryforward)")
	window := flag.String("window", "", "acute risk window offsets as min,max days after each start")

	everTreated := flag.Bool("evertreated", false, "derive a monotone ever-exposed indicator")
	currentFormer := flag.Bool("currentformer", false, "derive never/current/former coding")
	duration := flag.String("duration", "", "cumulative duration category cutpoints (comma-separated)")
	continuousUnit := flag.String("continuousunit", "", "running exposure time unit: days, weeks, months, quarters, years")
	recency := flag.String("recency", "", "time-since-last-exposure cutpoints in years (comma-separated)")
	dose := flag.Bool("dose", false, "derive cumulative dose (requires -dosevar)")
	doseCuts := flag.String("dosecuts", "", "cumulative dose category cutpoints (comma-separated)")
	byType := flag.Bool("bytype", false, "fan the derivation out per exposure type")

	switching := flag.Bool("switching", false, "add a has_switched indicator")
	switchingDetail := flag.Bool("switchingdetail", false, "add the full switching pattern column")
	stateTime := flag.Bool("statetime", false, "add cumulative days in the current exposure state")

	keepVars := flag.String("keepvars", "", "cohort covariates to broadcast (comma-separated)")
	keepDates := flag.Bool("keepdates", false, "carry entry and exit dates onto every row")

	check := flag.Bool("check", false, "report coverage diagnostics")
	gaps := flag.Bool("gaps", false, "report gap counts")
	overlaps := flag.Bool("overlaps", false, "report overlap counts")
	summarize := flag.Bool("summarize", false, "report the exposure distribution summary")
	validate := flag.Bool("validate", false, "verify person-time conservation (implies -strict)")
	strict := flag.Bool("strict", false, "treat data-quality problems as fatal")

	saveAs := flag.String("saveas", "", "write the panel to this path (.csv or .xlsx)")
	replace := flag.Bool("replace", false, "overwrite the output file if it exists")
	isoDates := flag.Bool("dates", false, "write interval bounds as ISO dates instead of day numbers")
	workers := flag.Int("workers", 0, "subject worker pool size (0 = GOMAXPROCS)")
	flag.Parse()

	if *cohortPath == "" || *exposuresPath == "" {
		slog.Error("Both -cohort and -exposures are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, logger := initApp("tvexpose")
	defer infrastructure.CloseLogger()

	telemetry, err := infrastructure.InitializeTelemetry(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("Telemetry disabled", slog.String("error", err.Error()))
	}
	ctx := context.Background()
	if telemetry != nil {
		defer telemetry.Shutdown(ctx)
	}

	opts := tvexpose.Options{
		ID:              *id,
		Entry:           *entry,
		Exit:            *exit,
		Start:           *start,
		Stop:            *stop,
		Exposure:        *exposure,
		DoseVar:         *doseVar,
		Reference:       *reference,
		Generate:        *generate,
		Layer:           *layer,
		Priority:        splitList(*priority),
		Split:           *split,
		Combine:         *combine,
		Grace:           *grace,
		Lag:             *lag,
		Washout:         *washout,
		FillGaps:        *fillGaps,
		CarryForward:    *carryForward,
		PointTime:       *pointTime,
		EverTreated:     *everTreated,
		CurrentFormer:   *currentFormer,
		ContinuousUnit:  *continuousUnit,
		Dose:            *dose,
		ByType:          *byType,
		Switching:       *switching,
		SwitchingDetail: *switchingDetail,
		StateTime:       *stateTime,
		KeepVars:        splitList(*keepVars),
		KeepDates:       *keepDates,
		Check:           *check,
		Gaps:            *gaps,
		Overlaps:        *overlaps,
		Summarize:       *summarize,
		Validate:        *validate,
		Strict:          *strict,
		SaveAs:          *saveAs,
		Replace:         *replace,
		ISODates:        *isoDates,
		DaysPerYear:     cfg.Pipeline.DaysPerYear,
		Tolerance:       cfg.Pipeline.PersonTimeTolerance,
		Workers:         *workers,
	}
	if opts.Workers == 0 {
		opts.Workers = cfg.Pipeline.Workers
	}
	if cfg.Pipeline.Strict {
		opts.Strict = true
	}

	if opts.DurationCuts, err = parseCuts(*duration); err != nil {
		fatal(logger, "Invalid -duration cutpoints", err)
	}
	if opts.RecencyCuts, err = parseCuts(*recency); err != nil {
		fatal(logger, "Invalid -recency cutpoints", err)
	}
	if opts.DoseCuts, err = parseCuts(*doseCuts); err != nil {
		fatal(logger, "Invalid -dosecuts cutpoints", err)
	}
	if opts.GraceByType, err = parseGraceMap(*graceMap); err != nil {
		fatal(logger, "Invalid -gracemap", err)
	}
	if *window != "" {
		if opts.WindowMin, opts.WindowMax, err = parseWindow(*window); err != nil {
			fatal(logger, "Invalid -window", err)
		}
		opts.HasWindow = true
	}

	cohort, err := dataset.Read(*cohortPath)
	if err != nil {
		fatal(logger, "Failed to read cohort file", err)
	}
	exposures, err := dataset.Read(*exposuresPath)
	if err != nil {
		fatal(logger, "Failed to read exposures file", err)
	}

	logger.Info("Building time-varying exposure panel",
		slog.String("cohort", *cohortPath),
		slog.String("exposures", *exposuresPath),
		slog.Int("cohort_rows", cohort.Len()),
		slog.Int("exposure_rows", exposures.Len()))

	runner := tvexpose.NewRunner()
	runner.Logger = logger
	runner.Telemetry = telemetry

	res, err := runner.Run(ctx, cohort, exposures, opts)
	if err != nil {
		fatal(logger, "Panel construction failed", err)
	}

	for _, w := range res.Warnings {
		logger.Warn(w.Message,
			slog.String("kind", string(w.Kind)),
			slog.String("subject", w.SubjectID))
	}

	logger.Info("Panel complete",
		slog.Int("subjects", res.Stats.Subjects),
		slog.Int("rows", res.Stats.Rows),
		slog.Int("dropped_records", res.Stats.DroppedRecords),
		slog.Int("gaps", res.Stats.Gaps),
		slog.Int("overlaps", res.Stats.Overlaps))
	fmt.Printf("Panel complete: %d subjects, %d rows\n", res.Stats.Subjects, res.Stats.Rows)

	if *saveAs == "" {
		if err := dataset.WriteCSVTo(os.Stdout, res.Panel); err != nil {
			fatal(logger, "Failed to write panel", err)
		}
	}
}

// initApp loads configuration and sets up the shared logger, falling back
// to defaults when no config is present.
func initApp(service string) (*config.Config, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}
	cfg.Telemetry.ServiceName = service

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", "error", err)
		logger = slog.Default()
	}
	return cfg, logger
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseCuts(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := splitList(s)
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("cutpoint %q is not a number", p)
		}
		out[i] = v
	}
	return out, nil
}

// parseGraceMap parses "A=30,B=14" into per-category grace day counts
func parseGraceMap(s string) (map[string]int, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, part := range splitList(s) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("entry %q is not category=days", part)
		}
		days, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("grace days %q is not an integer", kv[1])
		}
		out[strings.TrimSpace(kv[0])] = days
	}
	return out, nil
}

func parseWindow(s string) (min, max int, err error) {
	parts := splitList(s)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window must be min,max")
	}
	if min, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("window min %q is not an integer", parts[0])
	}
	if max, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("window max %q is not an integer", parts[1])
	}
	return min, max, nil
}
