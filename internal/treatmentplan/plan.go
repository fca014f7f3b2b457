package treatmentplan

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dentalink/clinic-portal/internal/odontogram"
)

// ErrPieceAndPrestationRequired is the validation failure returned when an
// item is submitted without a piece or a prestation.
var ErrPieceAndPrestationRequired = errors.New("Pieza y prestacion son obligatorias.")

// Item is one row of a treatment plan: a prestation applied to a tooth on a
// set of faces. CreatedAt is a month/year stamp assigned once at creation.
type Item struct {
	ID         string   `json:"id"`
	Piece      string   `json:"piece"`
	Faces      []string `json:"faces"`
	Prestation string   `json:"prestation"`
	CreatedAt  string   `json:"createdAt"`
}

// Plan is the decoded form of the stored treatment plan field: structured
// items plus free-text notes carried over from the legacy plain-text plans.
type Plan struct {
	Notes string
	Items []Item
}

// rawItem tolerates the legacy field names (pi, prestacion) and loosely
// typed values found in stored records.
type rawItem struct {
	ID         interface{}   `json:"id"`
	Piece      interface{}   `json:"piece"`
	Pi         interface{}   `json:"pi"`
	Faces      []interface{} `json:"faces"`
	Prestation interface{}   `json:"prestation"`
	Prestacion interface{}   `json:"prestacion"`
	CreatedAt  interface{}   `json:"createdAt"`
}

// Parse decodes a stored treatment plan. Three shapes are accepted: a bare
// JSON array of items, an object {notes, items}, and anything else, which is
// treated as legacy free-text notes and returned verbatim. Parse never fails.
func Parse(raw string) Plan {
	if raw == "" {
		return Plan{}
	}

	switch firstByte(raw) {
	case '[':
		var items []rawItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return Plan{Notes: raw}
		}
		return Plan{Items: normalize(items)}
	case '{':
		var obj struct {
			Notes string    `json:"notes"`
			Items []rawItem `json:"items"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return Plan{Notes: raw}
		}
		return Plan{Notes: obj.Notes, Items: normalize(obj.Items)}
	default:
		return Plan{Notes: raw}
	}
}

func firstByte(s string) byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

// Serialize encodes items in their persisted form. An empty plan encodes to
// the empty string, not "[]", matching the legacy "no plan" representation.
func Serialize(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(data)
}

// normalize maps raw stored rows onto Items: legacy field names fall back
// (pi to piece, prestacion to prestation), non-string faces are dropped,
// missing ids and creation stamps are filled in, and rows with neither piece
// nor prestation are discarded.
func normalize(raw []rawItem) []Item {
	items := make([]Item, 0, len(raw))
	now := time.Now()
	for idx, r := range raw {
		faces := make([]string, 0, len(r.Faces))
		for _, f := range r.Faces {
			if s, ok := f.(string); ok {
				faces = append(faces, s)
			}
		}

		id, _ := r.ID.(string)
		if id == "" {
			id = strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.Itoa(idx)
		}

		piece := coerceString(r.Piece)
		if piece == "" {
			piece = coerceString(r.Pi)
		}
		prestation := coerceString(r.Prestation)
		if prestation == "" {
			prestation = coerceString(r.Prestacion)
		}
		createdAt, _ := r.CreatedAt.(string)
		if createdAt == "" {
			createdAt = MonthYear(now)
		}

		if piece == "" && prestation == "" {
			continue
		}
		items = append(items, Item{
			ID:         id,
			Piece:      piece,
			Faces:      faces,
			Prestation: prestation,
			CreatedAt:  createdAt,
		})
	}
	return items
}

func coerceString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// CanonicalFaces reduces a face selection to the canonical ordering: only
// known faces are kept, in the fixed face-list order rather than selection
// order.
func CanonicalFaces(selected []string) []string {
	set := make(map[string]bool, len(selected))
	for _, f := range selected {
		set[f] = true
	}
	ordered := make([]string, 0, len(selected))
	for _, f := range odontogram.Faces {
		if set[f] {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// FormatFaces renders a faces slice as concatenated display codes ("MD"),
// or "-" when no face applies.
func FormatFaces(faces []string) string {
	if len(faces) == 0 {
		return "-"
	}
	var b strings.Builder
	for _, f := range faces {
		b.WriteString(odontogram.FaceCodes[f])
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// MonthYear formats the "MM/YYYY" creation stamp.
func MonthYear(t time.Time) string {
	return t.Format("01/2006")
}

// NewItemID returns an opaque unique token for a new plan item.
func NewItemID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + hex.EncodeToString(buf)
}

// Editor maintains the plan item list with edit-in-place semantics: at most
// one item is being edited at a time, and updating it preserves its original
// creation stamp.
type Editor struct {
	Items     []Item
	EditingID string
}

// NewEditor wraps an existing item list.
func NewEditor(items []Item) *Editor {
	return &Editor{Items: items}
}

// AddOrUpdate validates and stores an item. With no edit in progress the
// item is appended with a fresh id and the current month/year stamp; while
// editing, the edited item is replaced in place and keeps its CreatedAt.
func (e *Editor) AddOrUpdate(piece string, faces []string, prestation string) (Item, error) {
	piece = strings.TrimSpace(piece)
	prestation = strings.TrimSpace(prestation)
	if piece == "" || prestation == "" {
		return Item{}, ErrPieceAndPrestationRequired
	}

	item := Item{
		ID:         e.EditingID,
		Piece:      piece,
		Faces:      CanonicalFaces(faces),
		Prestation: prestation,
	}

	if e.EditingID == "" {
		item.ID = NewItemID()
		item.CreatedAt = MonthYear(time.Now())
		e.Items = append(e.Items, item)
		return item, nil
	}

	item.CreatedAt = e.createdAt(e.EditingID)
	for i, existing := range e.Items {
		if existing.ID == e.EditingID {
			e.Items[i] = item
			break
		}
	}
	e.EditingID = ""
	return item, nil
}

func (e *Editor) createdAt(id string) string {
	for _, item := range e.Items {
		if item.ID == id {
			return item.CreatedAt
		}
	}
	return MonthYear(time.Now())
}

// StartEdit marks an item as being edited and returns it.
func (e *Editor) StartEdit(id string) (Item, bool) {
	for _, item := range e.Items {
		if item.ID == id {
			e.EditingID = id
			return item, true
		}
	}
	return Item{}, false
}

// CancelEdit abandons the edit in progress.
func (e *Editor) CancelEdit() {
	e.EditingID = ""
}

// Remove deletes an item by id. Removing the item currently being edited
// also clears the edit state.
func (e *Editor) Remove(id string) {
	kept := e.Items[:0]
	for _, item := range e.Items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	e.Items = kept
	if e.EditingID == id {
		e.EditingID = ""
	}
}
