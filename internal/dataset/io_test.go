package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	t := New("id", "start", "stop", "exposure")
	t.Rows = append(t.Rows,
		Row{"id": "1", "start": "0", "stop": "100", "exposure": "A"},
		Row{"id": "1", "start": "100", "stop": "365", "exposure": "0"},
		Row{"id": "2", "start": "0", "stop": "200", "exposure": "B"},
	)
	return t
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	want := sampleTable()

	require.NoError(t, WriteCSV(path, want))
	got, err := ReadCSV(path)
	require.NoError(t, err)

	assert.Equal(t, want.Columns, got.Columns)
	assert.Equal(t, want.Rows, got.Rows)
}

func TestXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.xlsx")
	want := sampleTable()

	require.NoError(t, WriteXLSX(path, want))
	got, err := ReadXLSX(path)
	require.NoError(t, err)

	assert.Equal(t, want.Columns, got.Columns)
	assert.Equal(t, want.Rows, got.Rows)
}

func TestWriteRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	err := Write(path, sampleTable(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, Write(path, sampleTable(), true))
}

func TestReadRejectsUnknownExtension(t *testing.T) {
	_, err := Read("panel.dta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestReadCSVStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.csv")
	require.NoError(t, os.WriteFile(path, []byte("\xEF\xBB\xBFid,start\n1,0\n"), 0644))

	got, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "start"}, got.Columns)
}

func TestWriteCSVTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSVTo(&buf, sampleTable()))

	assert.Contains(t, buf.String(), "id,start,stop,exposure\n")
	assert.Contains(t, buf.String(), "1,0,100,A\n")
}
