package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tvtools/internal/config"
	"tvtools/internal/dataset"
	"tvtools/internal/infrastructure"
	"tvtools/internal/tvevent"
)

func main() {
	panelPath := flag.String("panel", "", "time-varying panel file (.csv or .xlsx)")
	eventsPath := flag.String("events", "", "outcome events file (.csv or .xlsx)")

	id := flag.String("id", "id", "subject identifier column (panel)")
	start := flag.String("start", "start", "interval start column (panel)")
	stop := flag.String("stop", "stop", "interval stop column (panel)")
	eventID := flag.String("eventid", "id", "subject identifier column (events)")
	eventDate := flag.String("eventdate", "eventdate", "event date column")
	eventType := flag.String("eventtype", "", "event type column (competing risks)")
	competing := flag.String("competing", "", "competing event types in coding order, comma-separated")

	generate := flag.String("generate", "", "failure indicator column name (default _failure)")
	recurring := flag.Bool("recurring", false, "keep follow-up after each event instead of censoring at the first")
	continuous := flag.String("continuous", "", "running-total columns rescaled on split, comma-separated")

	timeGen := flag.String("timegen", "", "analysis time column name")
	timeUnit := flag.String("timeunit", "days", "analysis time unit: days, months, years")

	check := flag.Bool("check", false, "report integration diagnostics")
	saveAs := flag.String("saveas", "", "write the panel to this path (.csv or .xlsx)")
	replace := flag.Bool("replace", false, "overwrite the output file if it exists")
	isoDates := flag.Bool("dates", false, "write interval bounds as ISO dates instead of day numbers")
	flag.Parse()

	if *panelPath == "" || *eventsPath == "" {
		slog.Error("Both -panel and -events are required")
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

	panel, err := dataset.Read(*panelPath)
	if err != nil {
		fatal(logger, "Failed to read panel file", err)
	}
	events, err := dataset.Read(*eventsPath)
	if err != nil {
		fatal(logger, "Failed to read events file", err)
	}

	logger.Info("Integrating outcome events",
		slog.String("panel", *panelPath),
		slog.String("events", *eventsPath),
		slog.Int("panel_rows", panel.Len()),
		slog.Int("event_rows", events.Len()))

	opts := tvevent.Options{
		ID:             *id,
		Start:          *start,
		Stop:           *stop,
		EventID:        *eventID,
		EventDate:      *eventDate,
		EventType:      *eventType,
		Generate:       *generate,
		Recurring:      *recurring,
		CompetingTypes: splitList(*competing),
		Continuous:     splitList(*continuous),
		TimeGen:        *timeGen,
		TimeUnit:       *timeUnit,
		DaysPerYear:    cfg.Pipeline.DaysPerYear,
		Check:          *check,
		SaveAs:         *saveAs,
		Replace:        *replace,
		ISODates:       *isoDates,
	}

	res, err := tvevent.Run(ctx, panel, events, opts)
	if err != nil {
		fatal(logger, "Event integration failed", err)
	}

	for _, w := range res.Warnings {
		logger.Warn(w.Message,
			slog.String("kind", string(w.Kind)),
			slog.String("subject", w.SubjectID))
	}

	logger.Info("Event integration complete",
		slog.Int("subjects", res.Stats.Subjects),
		slog.Int("events", res.Stats.Events),
		slog.Int("flagged_rows", res.Stats.Flagged))
	fmt.Printf("Event integration complete: %d subjects, %d flagged rows\n",
		res.Stats.Subjects, res.Stats.Flagged)

	if *saveAs == "" {
		if err := dataset.WriteCSVTo(os.Stdout, res.Panel); err != nil {
			fatal(logger, "Failed to write panel", err)
		}
	}
}

func initApp() (*config.Config, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = config.Default()
	}
	cfg.Telemetry.ServiceName = "tvevent"

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
