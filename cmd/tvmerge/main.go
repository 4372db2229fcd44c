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
	"tvtools/internal/tvmerge"
)

func main() {
	id := flag.String("id", "id", "subject identifier column (all sources)")
	start := flag.String("start", "start", "interval start column (all sources)")
	stop := flag.String("stop", "stop", "interval stop column (all sources)")
	exposures := flag.String("exposures", "", "exposure column per source, comma-separated (one value applies to all)")
	references := flag.String("references", "0", "reference level per source, comma-separated (one value applies to all)")
	continuous := flag.String("continuous", "", "1-based source numbers whose exposure is a running total, comma-separated")

	generate := flag.String("generate", "", "output exposure names, comma-separated (one per source)")
	prefix := flag.String("prefix", "", "prefix for output exposure names")
	keep := flag.String("keep", "", "covariates to carry over, comma-separated")
	force := flag.Bool("force", false, "union merge: keep subjects missing from some sources, filled with the reference")

	check := flag.Bool("check", false, "report merge diagnostics")
	validateCoverage := flag.Bool("validatecoverage", false, "warn on gaps in merged timelines")
	validateOverlap := flag.Bool("validateoverlap", false, "warn on overlapping rows within a source")

	saveAs := flag.String("saveas", "", "write the merged panel to this path (.csv or .xlsx)")
	replace := flag.Bool("replace", false, "overwrite the output file if it exists")
	isoDates := flag.Bool("dates", false, "write interval bounds as ISO dates instead of day numbers")
	flag.Parse()

	paths := flag.Args()
	if len(paths) < 2 {
		slog.Error("At least 2 source panel files are required as arguments")
		flag.Usage()
		os.Exit(1)
	}

	cfg, logger := initApp()
	defer infrastructure.CloseLogger()

	telemetry, err := infrastructure.InitializeTelemetry(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("Telemetry disabled", slog.String("error", err.Error()))
	}
	ctx := context.Background()
	if telemetry != nil {
		defer telemetry.Shutdown(ctx)
	}

	expCols := perSource(splitList(*exposures), len(paths), "exposure")
	refs := perSource(splitList(*references), len(paths), "0")
	contSet, err := parseSourceNumbers(*continuous, len(paths))
	if err != nil {
		fatal(logger, "Invalid -continuous", err)
	}

	sources := make([]tvmerge.Source, len(paths))
	for i, path := range paths {
		table, err := dataset.Read(path)
		if err != nil {
			fatal(logger, fmt.Sprintf("Failed to read source %d", i+1), err)
		}
		logger.Info("Loaded source panel",
			slog.Int("source", i+1),
			slog.String("path", path),
			slog.Int("rows", table.Len()))
		sources[i] = tvmerge.Source{
			Table:      table,
			ID:         *id,
			Start:      *start,
			Stop:       *stop,
			Exposure:   expCols[i],
			Reference:  refs[i],
			Continuous: contSet[i],
		}
	}

	opts := tvmerge.Options{
		Generate:         splitList(*generate),
		Prefix:           *prefix,
		StartName:        *start,
		StopName:         *stop,
		Keep:             splitList(*keep),
		Force:            *force,
		Check:            *check,
		ValidateCoverage: *validateCoverage,
		ValidateOverlap:  *validateOverlap,
		SaveAs:           *saveAs,
		Replace:          *replace,
		ISODates:         *isoDates,
	}

	res, err := tvmerge.Merge(ctx, sources, opts)
	if err != nil {
		fatal(logger, "Merge failed", err)
	}

	for _, w := range res.Warnings {
		logger.Warn(w.Message,
			slog.String("kind", string(w.Kind)),
			slog.String("subject", w.SubjectID))
	}

	logger.Info("Merge complete",
		slog.Int("sources", res.Stats.Sources),
		slog.Int("subjects", res.Stats.Subjects),
		slog.Int("rows", res.Stats.Rows),
		slog.Int("dropped_subjects", res.Stats.DroppedSubjects))
	fmt.Printf("Merge complete: %d subjects, %d rows\n", res.Stats.Subjects, res.Stats.Rows)

	if *saveAs == "" {
		if err := dataset.WriteCSVTo(os.Stdout, res.Panel); err != nil {
			fatal(logger, "Failed to write merged panel", err)
		}
	}
}

func initApp() (*config.Config, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}
	cfg.Telemetry.ServiceName = "tvmerge"

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

// perSource expands a per-source value list: a single value applies to all
// sources, an empty list falls back to the default.
func perSource(values []string, n int, fallback string) []string {
	out := make([]string, n)
	for i := range out {
		switch {
		case len(values) == 0:
			out[i] = fallback
		case len(values) == 1:
			out[i] = values[0]
		case i < len(values):
			out[i] = values[i]
		default:
			out[i] = fallback
		}
	}
	return out
}

// parseSourceNumbers converts "1,3" into a membership slice over n sources
func parseSourceNumbers(s string, n int) ([]bool, error) {
	out := make([]bool, n)
	for _, part := range splitList(s) {
		i, err := strconv.Atoi(part)
		if err != nil || i < 1 || i > n {
			return nil, fmt.Errorf("source number %q out of range 1..%d", part, n)
		}
		out[i-1] = true
	}
	return out, nil
}
