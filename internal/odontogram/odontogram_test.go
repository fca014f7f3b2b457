package odontogram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleSurfacePaintAndUnpaint(t *testing.T) {
	chart := Chart{}

	chart.Toggle("11", "mesial", ToolRed)
	require.Contains(t, chart, "11")
	assert.Equal(t, PaintRed, chart["11"].Surfaces["mesial"])

	// repainting with the other color replaces, not removes
	chart.Toggle("11", "mesial", ToolBlue)
	assert.Equal(t, PaintBlue, chart["11"].Surfaces["mesial"])

	// same color toggles off and the empty entry is dropped
	chart.Toggle("11", "mesial", ToolBlue)
	assert.NotContains(t, chart, "11")
}

func TestToggleExtractionClearsSurfaces(t *testing.T) {
	chart := Chart{}
	chart.Toggle("26", "oclusal", ToolRed)
	chart.Toggle("26", "distal", ToolBlue)

	chart.Toggle("26", "", ToolRed) // tooth body click flips extraction
	require.Contains(t, chart, "26")
	assert.True(t, chart["26"].Extraction)
	assert.Empty(t, chart["26"].Surfaces)

	// second body click un-flags and the empty entry is dropped
	chart.Toggle("26", "", ToolRed)
	assert.NotContains(t, chart, "26")
}

func TestTogglePaintClearsExtraction(t *testing.T) {
	chart := Chart{}
	chart.Toggle("48", "mesial", ToolExtract)
	require.True(t, chart["48"].Extraction)

	chart.Toggle("48", "vestibular", ToolBlue)
	assert.False(t, chart["48"].Extraction)
	assert.Equal(t, PaintBlue, chart["48"].Surfaces["vestibular"])
}

func TestParseCurrentFormat(t *testing.T) {
	raw := `{"11":{"surfaces":{"mesial":"red","distal":"blue"}},"18":{"surfaces":{},"extraction":true}}`
	chart := Parse(raw)

	require.Len(t, chart, 2)
	assert.Equal(t, PaintRed, chart["11"].Surfaces["mesial"])
	assert.Equal(t, PaintBlue, chart["11"].Surfaces["distal"])
	assert.True(t, chart["18"].Extraction)
}

func TestParseLegacyArrayMigratesToRed(t *testing.T) {
	chart := Parse(`{"11":["mesial","distal"],"21":[]}`)

	require.Contains(t, chart, "11")
	assert.Equal(t, PaintRed, chart["11"].Surfaces["mesial"])
	assert.Equal(t, PaintRed, chart["11"].Surfaces["distal"])
	// empty legacy entries are not kept
	assert.NotContains(t, chart, "21")
}

func TestParseNormalizesTrueToRed(t *testing.T) {
	chart := Parse(`{"36":{"surfaces":{"oclusal":true,"mesial":false,"distal":3}}}`)

	require.Contains(t, chart, "36")
	assert.Equal(t, PaintRed, chart["36"].Surfaces["oclusal"])
	assert.NotContains(t, chart["36"].Surfaces, "mesial")
	assert.NotContains(t, chart["36"].Surfaces, "distal")
}

func TestParseMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2,3]", `{"11":`} {
		assert.Empty(t, Parse(raw), "raw=%q", raw)
	}
}

func TestParseDropsEmptyMarks(t *testing.T) {
	chart := Parse(`{"11":{"surfaces":{}},"12":{"surfaces":{"mesial":"red"}}}`)
	assert.NotContains(t, chart, "11")
	assert.Contains(t, chart, "12")
}

func TestSerializeRoundTrip(t *testing.T) {
	chart := Chart{}
	chart.Toggle("11", "mesial", ToolRed)
	chart.Toggle("25", "oclusal", ToolBlue)
	chart.Toggle("48", "", ToolExtract)

	again := Parse(chart.Serialize())
	assert.Equal(t, chart, again)
}

func TestSerializeEmpty(t *testing.T) {
	assert.Equal(t, "{}", Chart{}.Serialize())

	chart := Chart{}
	chart.Toggle("11", "mesial", ToolRed)
	chart.Clear()
	assert.Equal(t, "{}", chart.Serialize())
}

func TestSerializeOmitsFalseExtraction(t *testing.T) {
	chart := Chart{}
	chart.Toggle("11", "mesial", ToolRed)

	var decoded map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(chart.Serialize()), &decoded))
	assert.NotContains(t, decoded["11"], "extraction")
}

func TestTeethLayout(t *testing.T) {
	require.Len(t, TeethRows, 4)
	assert.Len(t, TeethList, 52) // 32 permanent + 20 deciduous
	assert.Len(t, Faces, 8)
	for _, f := range Faces {
		assert.NotEmpty(t, FaceCodes[f])
	}
}
