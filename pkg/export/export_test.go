package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Dataset {
	return Dataset{
		Title:   "Pickup history",
		Columns: []string{"Verified at", "Student", "Notes"},
		Rows: [][]string{
			{"2026-10-14T15:04:05Z", "Ada Lovelace", "picked up by aunt, ID checked"},
		},
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(FormatCSV, sample())
	require.NoError(t, err)
	assert.Equal(t, "Verified at,Student,Notes\n2026-10-14T15:04:05Z,Ada Lovelace,\"picked up by aunt, ID checked\"\n", string(out))
}

func TestRenderPDF(t *testing.T) {
	out, err := Render(FormatPDF, sample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	data := sample()
	data.Rows = append(data.Rows, []string{"only one"})
	_, err := Render(FormatCSV, data)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
