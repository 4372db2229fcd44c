package tvevent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtools/internal/dataset"
	apperrors "tvtools/internal/errors"
)

func panelTable(rows ...dataset.Row) *dataset.Table {
	t := dataset.New("id", "start", "stop", "exposure")
	t.Rows = append(t.Rows, rows...)
	return t
}

func eventTable(cols []string, rows ...dataset.Row) *dataset.Table {
	t := dataset.New(cols...)
	t.Rows = append(t.Rows, rows...)
	return t
}

func eventOpts() Options {
	return Options{
		ID: "id", Start: "start", Stop: "stop",
		EventID: "id", EventDate: "date",
	}
}

func TestRunSplitsAndFlagsAtEvent(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"},
		dataset.Row{"id": "1", "start": "100", "stop": "365", "exposure": "0"},
	)
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "1", "date": "60"})

	res, err := Run(context.Background(), panel, events, eventOpts())
	require.NoError(t, err)

	// Row [0,100) splits at 60; follow-up after the event is censored
	require.Equal(t, 1, res.Panel.Len())
	row := res.Panel.Rows[0]
	assert.Equal(t, "0", row["start"])
	assert.Equal(t, "60", row["stop"])
	assert.Equal(t, "A", row["exposure"])
	assert.Equal(t, "1", row["_failure"])
	assert.Equal(t, 1, res.Stats.Flagged)
	assert.Equal(t, 2, res.Stats.CensoredRows)
}

func TestRunRecurringKeepsFollowUp(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "365", "exposure": "A"})
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "1", "date": "100"},
		dataset.Row{"id": "1", "date": "200"})

	opts := eventOpts()
	opts.Recurring = true

	res, err := Run(context.Background(), panel, events, opts)
	require.NoError(t, err)

	require.Equal(t, 3, res.Panel.Len())
	assert.Equal(t, "1", res.Panel.Rows[0]["_failure"])
	assert.Equal(t, "100", res.Panel.Rows[0]["stop"])
	assert.Equal(t, "1", res.Panel.Rows[1]["_failure"])
	assert.Equal(t, "200", res.Panel.Rows[1]["stop"])
	assert.Equal(t, "0", res.Panel.Rows[2]["_failure"])
	assert.Equal(t, "365", res.Panel.Rows[2]["stop"])
	assert.Equal(t, 2, res.Stats.Flagged)
}

func TestRunCompetingRisksEarliestWins(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "365", "exposure": "A"})
	events := eventTable([]string{"id", "date", "type"},
		dataset.Row{"id": "1", "date": "200", "type": "mi"},
		dataset.Row{"id": "1", "date": "120", "type": "stroke"})

	opts := eventOpts()
	opts.EventType = "type"
	opts.CompetingTypes = []string{"mi", "stroke"}

	res, err := Run(context.Background(), panel, events, opts)
	require.NoError(t, err)

	// Stroke at day 120 precedes MI and carries its type code 2
	require.Equal(t, 1, res.Panel.Len())
	assert.Equal(t, "120", res.Panel.Rows[0]["stop"])
	assert.Equal(t, "2", res.Panel.Rows[0]["_failure"])
}

func TestRunEventOutsideFollowUpSkipped(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "100", "stop": "200", "exposure": "A"})
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "1", "date": "50"},
		dataset.Row{"id": "1", "date": "300"})

	res, err := Run(context.Background(), panel, events, eventOpts())
	require.NoError(t, err)

	require.Equal(t, 1, res.Panel.Len())
	assert.Equal(t, "0", res.Panel.Rows[0]["_failure"])
	assert.Equal(t, 2, res.Stats.SkippedEvents)

	var outOfWindow int
	for _, w := range res.Warnings {
		if w.Kind == apperrors.WarningOutOfWindow {
			outOfWindow++
		}
	}
	assert.Equal(t, 2, outOfWindow)
}

func TestRunEventAtRowBoundaryFlagsWithoutSplit(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"},
		dataset.Row{"id": "1", "start": "100", "stop": "200", "exposure": "0"})
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "1", "date": "100"})

	res, err := Run(context.Background(), panel, events, eventOpts())
	require.NoError(t, err)

	require.Equal(t, 1, res.Panel.Len())
	assert.Equal(t, "100", res.Panel.Rows[0]["stop"])
	assert.Equal(t, "1", res.Panel.Rows[0]["_failure"])
}

func TestRunContinuousRescaledOnSplit(t *testing.T) {
	panel := dataset.New("id", "start", "stop", "dosedays")
	panel.Rows = append(panel.Rows,
		dataset.Row{"id": "1", "start": "0", "stop": "100", "dosedays": "80"})
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "1", "date": "25"})

	opts := eventOpts()
	opts.Continuous = []string{"dosedays"}

	res, err := Run(context.Background(), panel, events, opts)
	require.NoError(t, err)

	require.Equal(t, 1, res.Panel.Len())
	assert.Equal(t, "20", res.Panel.Rows[0]["dosedays"])
}

func TestRunTimeGen(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"},
		dataset.Row{"id": "1", "start": "100", "stop": "365", "exposure": "0"})
	events := eventTable([]string{"id", "date"})

	opts := eventOpts()
	opts.TimeGen = "t"
	opts.TimeUnit = "days"

	res, err := Run(context.Background(), panel, events, opts)
	require.NoError(t, err)

	require.Equal(t, 2, res.Panel.Len())
	assert.Equal(t, "100", res.Panel.Rows[0]["t"])
	assert.Equal(t, "365", res.Panel.Rows[1]["t"])
	assert.Contains(t, res.Panel.Columns, "t")
}

func TestRunEventForUnknownSubjectWarns(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"})
	events := eventTable([]string{"id", "date"},
		dataset.Row{"id": "9", "date": "50"})

	res, err := Run(context.Background(), panel, events, eventOpts())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.SkippedEvents)
	var found bool
	for _, w := range res.Warnings {
		if w.Kind == apperrors.WarningUnknownSubject && w.SubjectID == "9" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunConfigurationErrors(t *testing.T) {
	panel := panelTable(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"})
	events := eventTable([]string{"id", "date"})

	opts := eventOpts()
	opts.CompetingTypes = []string{"mi"}
	_, err := Run(context.Background(), panel, events, opts)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	opts = eventOpts()
	opts.TimeGen = "t"
	opts.TimeUnit = "decades"
	_, err = Run(context.Background(), panel, events, opts)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}
