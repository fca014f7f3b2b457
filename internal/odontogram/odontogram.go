package odontogram

import (
	"encoding/json"
)

// Paint is the state of a painted tooth surface.
type Paint string

const (
	PaintRed  Paint = "red"  // trabajo realizado
	PaintBlue Paint = "blue" // trabajo planificado
)

// Tool is the marking tool the user has selected.
type Tool string

const (
	ToolRed     Tool = "red"
	ToolBlue    Tool = "blue"
	ToolExtract Tool = "extract"
)

// Faces lists the eight dental surfaces in canonical order. Treatment plan
// items and chart rendering both rely on this ordering.
var Faces = []string{
	"mesial",
	"distal",
	"oclusal",
	"vestibular",
	"lingual",
	"palatino",
	"incisal",
	"gingival",
}

// FaceCodes maps each surface to its single-letter display code.
var FaceCodes = map[string]string{
	"mesial":     "M",
	"distal":     "D",
	"oclusal":    "O",
	"vestibular": "V",
	"lingual":    "L",
	"palatino":   "P",
	"incisal":    "I",
	"gingival":   "G",
}

// TeethRows holds the FDI tooth identifiers as laid out on screen: upper and
// lower permanent arches, then upper and lower deciduous arches.
var TeethRows = [][]string{
	{"18", "17", "16", "15", "14", "13", "12", "11", "21", "22", "23", "24", "25", "26", "27", "28"},
	{"48", "47", "46", "45", "44", "43", "42", "41", "31", "32", "33", "34", "35", "36", "37", "38"},
	{"55", "54", "53", "52", "51", "61", "62", "63", "64", "65"},
	{"85", "84", "83", "82", "81", "71", "72", "73", "74", "75"},
}

// TeethList is TeethRows flattened.
var TeethList = func() []string {
	var all []string
	for _, row := range TeethRows {
		all = append(all, row...)
	}
	return all
}()

// ToothMark records the painted surfaces of one tooth and whether the tooth
// is marked for extraction. A mark with no surfaces and no extraction flag
// must not exist in a Chart.
type ToothMark struct {
	Surfaces   map[string]Paint `json:"surfaces"`
	Extraction bool             `json:"extraction,omitempty"`
}

// Chart maps FDI tooth identifiers to their marks. Teeth without marks are
// absent from the map.
type Chart map[string]ToothMark

// Toggle applies one click to the chart. An empty surface means the tooth
// body was clicked, which flips the extraction flag regardless of tool.
// Setting extraction clears all painted surfaces; painting a surface clears
// extraction. Painting a surface already holding the current tool's color
// unpaints it. Entries left with no surfaces and no extraction are removed.
func (c Chart) Toggle(tooth, surface string, tool Tool) {
	current := c[tooth]

	next := ToothMark{
		Surfaces:   make(map[string]Paint, len(current.Surfaces)),
		Extraction: current.Extraction,
	}
	for k, v := range current.Surfaces {
		next.Surfaces[k] = v
	}

	if tool == ToolExtract || surface == "" {
		next.Extraction = !current.Extraction
		if next.Extraction {
			next.Surfaces = map[string]Paint{}
		}
	} else {
		next.Extraction = false
		if next.Surfaces[surface] == Paint(tool) {
			delete(next.Surfaces, surface)
		} else {
			next.Surfaces[surface] = Paint(tool)
		}
	}

	if next.Extraction || len(next.Surfaces) > 0 {
		c[tooth] = next
	} else {
		delete(c, tooth)
	}
}

// Clear removes every mark from the chart.
func (c Chart) Clear() {
	for tooth := range c {
		delete(c, tooth)
	}
}

// Serialize encodes the chart in its persisted form. An empty chart encodes
// to "{}" so the stored field round-trips with existing records.
func (c Chart) Serialize() string {
	if len(c) == 0 {
		return "{}"
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// rawMark mirrors the stored object form with loosely typed values so that
// legacy encodings can be recovered.
type rawMark struct {
	Surfaces   map[string]json.RawMessage `json:"surfaces"`
	Extraction json.RawMessage            `json:"extraction"`
}

// Parse decodes a stored odontogram. Two historical shapes are accepted per
// tooth: the current {surfaces, extraction} object, and a legacy array of
// painted surface names which predates the planned/done distinction and is
// read as all-red. Surface values that are the JSON literal true are
// normalized to "red". Anything malformed degrades to an empty chart; Parse
// never fails.
func Parse(raw string) Chart {
	chart := Chart{}
	if raw == "" {
		return chart
	}

	var teeth map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &teeth); err != nil {
		return Chart{}
	}

	for tooth, value := range teeth {
		var legacy []interface{}
		if err := json.Unmarshal(value, &legacy); err == nil {
			surfaces := make(map[string]Paint)
			for _, v := range legacy {
				if name, ok := v.(string); ok {
					surfaces[name] = PaintRed
				}
			}
			if len(surfaces) > 0 {
				chart[tooth] = ToothMark{Surfaces: surfaces}
			}
			continue
		}

		var rm rawMark
		if err := json.Unmarshal(value, &rm); err != nil {
			continue
		}
		mark := ToothMark{Surfaces: make(map[string]Paint)}
		for name, pv := range rm.Surfaces {
			var s string
			if err := json.Unmarshal(pv, &s); err == nil {
				if s == string(PaintRed) || s == string(PaintBlue) {
					mark.Surfaces[name] = Paint(s)
				}
				continue
			}
			var b bool
			if err := json.Unmarshal(pv, &b); err == nil && b {
				mark.Surfaces[name] = PaintRed
			}
		}
		if truthy(rm.Extraction) {
			mark.Extraction = true
		}
		if mark.Extraction || len(mark.Surfaces) > 0 {
			chart[tooth] = mark
		}
	}

	return chart
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
