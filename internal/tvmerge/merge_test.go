package tvmerge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tvtools/internal/dataset"
	apperrors "tvtools/internal/errors"
)

func panelTable(cols []string, rows ...dataset.Row) *dataset.Table {
	t := dataset.New(cols...)
	t.Rows = append(t.Rows, rows...)
	return t
}

func drugSource(rows ...dataset.Row) Source {
	return Source{
		Table:     panelTable([]string{"id", "start", "stop", "drug"}, rows...),
		ID:        "id",
		Start:     "start",
		Stop:      "stop",
		Exposure:  "drug",
		Reference: "0",
	}
}

func smokeSource(rows ...dataset.Row) Source {
	return Source{
		Table:     panelTable([]string{"id", "start", "stop", "smoke"}, rows...),
		ID:        "id",
		Start:     "start",
		Stop:      "stop",
		Exposure:  "smoke",
		Reference: "never",
	}
}

func TestMergeSplitsAtUnionOfBreakpoints(t *testing.T) {
	drug := drugSource(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "drug": "A"},
		dataset.Row{"id": "1", "start": "100", "stop": "365", "drug": "0"},
	)
	smoke := smokeSource(
		dataset.Row{"id": "1", "start": "0", "stop": "50", "smoke": "current"},
		dataset.Row{"id": "1", "start": "50", "stop": "365", "smoke": "former"},
	)

	res, err := Merge(context.Background(), []Source{drug, smoke}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "start", "stop", "drug", "smoke"}, res.Panel.Columns)
	require.Equal(t, 3, res.Panel.Len())
	assert.Equal(t, dataset.Row{"id": "1", "start": "0", "stop": "50", "drug": "A", "smoke": "current"}, res.Panel.Rows[0])
	assert.Equal(t, dataset.Row{"id": "1", "start": "50", "stop": "100", "drug": "A", "smoke": "former"}, res.Panel.Rows[1])
	assert.Equal(t, dataset.Row{"id": "1", "start": "100", "stop": "365", "drug": "0", "smoke": "former"}, res.Panel.Rows[2])
}

func TestMergeInnerJoinByDefault(t *testing.T) {
	drug := drugSource(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "drug": "A"},
		dataset.Row{"id": "2", "start": "0", "stop": "100", "drug": "B"},
	)
	smoke := smokeSource(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "smoke": "current"},
	)

	res, err := Merge(context.Background(), []Source{drug, smoke}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Subjects)
	assert.Equal(t, 1, res.Stats.DroppedSubjects)
	for _, row := range res.Panel.Rows {
		assert.Equal(t, "1", row["id"])
	}

	var dropped bool
	for _, w := range res.Warnings {
		if w.Kind == apperrors.WarningUnknownSubject && w.SubjectID == "2" {
			dropped = true
		}
	}
	assert.True(t, dropped)
}

func TestMergeForceFillsMissingWithReference(t *testing.T) {
	drug := drugSource(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "drug": "A"},
		dataset.Row{"id": "2", "start": "0", "stop": "100", "drug": "B"},
	)
	smoke := smokeSource(
		dataset.Row{"id": "1", "start": "0", "stop": "100", "smoke": "current"},
	)

	res, err := Merge(context.Background(), []Source{drug, smoke}, Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Subjects)
	assert.Equal(t, 0, res.Stats.DroppedSubjects)

	var s2 dataset.Row
	for _, row := range res.Panel.Rows {
		if row["id"] == "2" {
			s2 = row
		}
	}
	require.NotNil(t, s2)
	assert.Equal(t, "B", s2["drug"])
	assert.Equal(t, "never", s2["smoke"])

	var filled bool
	for _, w := range res.Warnings {
		if w.Kind == apperrors.WarningMissingSourceTime && w.SubjectID == "2" {
			filled = true
		}
	}
	assert.True(t, filled)
}

func TestMergeGenerateRenames(t *testing.T) {
	drug := drugSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "drug": "A"})
	smoke := smokeSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "smoke": "current"})

	res, err := Merge(context.Background(), []Source{drug, smoke},
		Options{Generate: []string{"exp_drug", "exp_smoke"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "start", "stop", "exp_drug", "exp_smoke"}, res.Panel.Columns)
	assert.Equal(t, "A", res.Panel.Rows[0]["exp_drug"])
	assert.Equal(t, "current", res.Panel.Rows[0]["exp_smoke"])
}

func TestMergeKeepCollisionSuffix(t *testing.T) {
	a := drugSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "drug": "A"})
	a.Table.Columns = append(a.Table.Columns, "site")
	a.Table.Rows[0]["site"] = "north"

	b := smokeSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "smoke": "current"})
	b.Table.Columns = append(b.Table.Columns, "site")
	b.Table.Rows[0]["site"] = "south"

	res, err := Merge(context.Background(), []Source{a, b}, Options{Keep: []string{"site"}})
	require.NoError(t, err)

	require.Equal(t, 1, res.Panel.Len())
	assert.Equal(t, "north", res.Panel.Rows[0]["site_ds1"])
	assert.Equal(t, "south", res.Panel.Rows[0]["site_ds2"])
}

func TestMergeContinuousRescalesOnSplit(t *testing.T) {
	cum := Source{
		Table: panelTable([]string{"id", "start", "stop", "cumdose"},
			dataset.Row{"id": "1", "start": "0", "stop": "100", "cumdose": "50"}),
		ID: "id", Start: "start", Stop: "stop", Exposure: "cumdose",
		Reference: "0", Continuous: true,
	}
	smoke := smokeSource(
		dataset.Row{"id": "1", "start": "0", "stop": "40", "smoke": "current"},
		dataset.Row{"id": "1", "start": "40", "stop": "100", "smoke": "former"},
	)

	res, err := Merge(context.Background(), []Source{cum, smoke}, Options{})
	require.NoError(t, err)

	require.Equal(t, 2, res.Panel.Len())
	assert.Equal(t, "20", res.Panel.Rows[0]["cumdose"])
	assert.Equal(t, "30", res.Panel.Rows[1]["cumdose"])
}

func TestMergeConfigurationErrors(t *testing.T) {
	src := drugSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "drug": "A"})

	_, err := Merge(context.Background(), []Source{src}, Options{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = Merge(context.Background(), []Source{src, src},
		Options{Generate: []string{"x", "y"}, Prefix: "p_"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = Merge(context.Background(), []Source{src, src},
		Options{Generate: []string{"only_one"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))

	// Both sources expose "drug" with no renaming: output names collide
	_, err = Merge(context.Background(), []Source{src, src}, Options{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestMergeNoSharedSubjectsFails(t *testing.T) {
	a := drugSource(dataset.Row{"id": "1", "start": "0", "stop": "50", "drug": "A"})
	b := smokeSource(dataset.Row{"id": "2", "start": "0", "stop": "50", "smoke": "current"})

	_, err := Merge(context.Background(), []Source{a, b}, Options{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMergeCoalescesIdenticalSegments(t *testing.T) {
	// Source B's interior breakpoint does not change any value; the split
	// segments coalesce back into one row.
	a := drugSource(dataset.Row{"id": "1", "start": "0", "stop": "100", "drug": "A"})
	b := smokeSource(
		dataset.Row{"id": "1", "start": "0", "stop": "60", "smoke": "current"},
		dataset.Row{"id": "1", "start": "60", "stop": "100", "smoke": "current"},
	)

	res, err := Merge(context.Background(), []Source{a, b}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Panel.Len())
}
