package catalog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

func TestEncodeDecode_RoundTripsEveryField(t *testing.T) {
	t.Parallel()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	resources := []glossary.Resource{
		{
			ID:          "abcd-1234",
			Portal:      "chicago",
			Name:        "Street Trees",
			Format:      glossary.FormatTabular,
			Endpoint:    "https://data.example.gov/api/views/abcd-1234/rows.csv",
			LandingPage: "https://data.example.gov/d/abcd-1234",
			Description: "Every tree the city maintains.",
			Publisher:   "Bureau of Forestry",
			License:     "CC-BY-4.0",
			Keywords:    []string{"trees", "environment"},
			LastUpdated: &updated,
			Raw: map[string]any{
				"rowsUpdatedAt": float64(1714521600),
				"provenance":    "official",
				"flags":         []any{"restorable", "default"},
				"private":       false,
			},
			Hash: "4fe81a31c8a54",
		},
		{
			// Degraded descriptors carry only the required fields.
			ID:       "efgh-5678",
			Portal:   "chicago",
			Name:     "efgh-5678",
			Format:   glossary.FormatUnknown,
			Endpoint: "https://data.example.gov/d/efgh-5678",
		},
	}

	var buf bytes.Buffer
	for _, res := range resources {
		line, err := EncodeLine(res)
		require.NoError(t, err)
		require.True(t, bytes.HasSuffix(line, []byte("\n")))
		require.Equal(t, 1, bytes.Count(line, []byte("\n")))
		buf.Write(line)
	}

	decoded, err := DecodeLines(&buf)
	require.NoError(t, err)
	require.Equal(t, resources, decoded)
}

func TestDecodeLines_SkipsBlankLines(t *testing.T) {
	t.Parallel()

	input := "\n" + `{"id":"a-1","portal":"chicago","name":"A","format":"tabular","endpoint":"https://x"}` + "\n\n"
	decoded, err := DecodeLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, "a-1", decoded[0].ID)
}

func TestDecodeLines_ReportsLineNumber(t *testing.T) {
	t.Parallel()

	input := `{"id":"a-1","portal":"chicago","name":"A","format":"tabular","endpoint":"https://x"}` + "\n{{nope\n"
	_, err := DecodeLines(strings.NewReader(input))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}
