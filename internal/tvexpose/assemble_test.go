package tvexpose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTile(t *testing.T) {
	sub := Subject{ID: "1", Entry: 0, Exit: 365}
	opts := Options{Reference: "0"}

	t.Run("no exposure yields one reference interval", func(t *testing.T) {
		var stats subjectStats
		got := tile(sub, nil, &opts, &stats)
		require.Len(t, got, 1)
		assert.Equal(t, Interval{Start: 0, Stop: 365, Value: "0"}, got[0])
	})

	t.Run("baseline gap and tail fillers", func(t *testing.T) {
		var stats subjectStats
		ivs := []Interval{
			{Start: 50, Stop: 100, Value: "A", Types: []string{"A"}},
			{Start: 150, Stop: 200, Value: "B", Types: []string{"B"}},
		}
		got := tile(sub, ivs, &opts, &stats)
		require.Len(t, got, 5)
		assert.Equal(t, Interval{Start: 0, Stop: 50, Value: "0"}, got[0])
		assert.Equal(t, Interval{Start: 100, Stop: 150, Value: "0"}, got[2])
		assert.Equal(t, Interval{Start: 200, Stop: 365, Value: "0"}, got[4])
		assert.Equal(t, 1, stats.Gaps)
	})

	t.Run("tiling conserves person-time", func(t *testing.T) {
		var stats subjectStats
		ivs := []Interval{
			{Start: 10, Stop: 90, Value: "A", Types: []string{"A"}},
			{Start: 300, Stop: 365, Value: "A", Types: []string{"A"}},
		}
		got := tile(sub, ivs, &opts, &stats)

		total := 0
		for i, iv := range got {
			total += iv.Duration()
			if i > 0 {
				assert.Equal(t, got[i-1].Stop, iv.Start, "rows must be contiguous")
			}
		}
		assert.Equal(t, sub.FollowUp(), total)
	})
}

func TestCoalesceRowsIdempotent(t *testing.T) {
	rows := []PanelRow{
		{SubjectID: "1", Start: 0, Stop: 10, Values: map[string]string{"exp": "A"}},
		{SubjectID: "1", Start: 10, Stop: 20, Values: map[string]string{"exp": "A"}},
		{SubjectID: "1", Start: 20, Stop: 30, Values: map[string]string{"exp": "B"}},
		{SubjectID: "2", Start: 30, Stop: 40, Values: map[string]string{"exp": "B"}},
	}

	once := coalesceRows(rows)
	require.Len(t, once, 3)
	assert.Equal(t, 20, once[0].Stop)
	// Subject boundary never merges even when values match and intervals touch
	assert.Equal(t, "2", once[2].SubjectID)

	twice := coalesceRows(append([]PanelRow(nil), once...))
	assert.Equal(t, once, twice)
}

func TestBroadcast(t *testing.T) {
	sub := Subject{
		ID: "1", Entry: 10, Exit: 375,
		Covariates: map[string]string{"sex": "F", "yob": "1960"},
	}
	opts := Options{KeepVars: []string{"sex", "yob"}, KeepDates: true, Entry: "entry", Exit: "exit"}

	rows := []PanelRow{
		{SubjectID: "1", Start: 10, Stop: 100, Values: map[string]string{"exp": "A"}},
		{SubjectID: "1", Start: 100, Stop: 375, Values: map[string]string{"exp": "0"}},
	}
	got := broadcast(sub, rows, &opts)

	for _, r := range got {
		assert.Equal(t, "F", r.Values["sex"])
		assert.Equal(t, "1960", r.Values["yob"])
		assert.Equal(t, "10", r.Values["entry"])
		assert.Equal(t, "375", r.Values["exit"])
	}
}
