package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringEncodedArray(t *testing.T) {
	raw := json.RawMessage(`"[{\"id\":\"1\",\"date\":\"2024-03-05\",\"title\":\"Control\",\"notes\":\"sin novedades\"}]"`)
	entries := Parse(raw)
	require.Len(t, entries, 1)
	assert.Equal(t, "Control", entries[0].Title)
}

func TestParseDecodedArray(t *testing.T) {
	raw := json.RawMessage(`[{"id":"1","date":"2024-03-05","title":"Control","notes":""}]`)
	entries := Parse(raw)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-03-05", entries[0].Date)
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{``, `""`, `"garbage"`, `{"id":"1"}`, `null`} {
		assert.Empty(t, Parse(json.RawMessage(raw)), "raw=%s", raw)
	}
}

func TestSerialize(t *testing.T) {
	assert.Equal(t, "[]", Serialize(nil))

	entries := []Entry{{ID: "1", Date: "2024-03-05", Title: "Control", Notes: "ok"}}
	round := Parse(json.RawMessage(Serialize(entries)))
	assert.Equal(t, entries, round)
}

func TestNewDraft(t *testing.T) {
	now := time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC)
	draft := NewDraft(now)
	assert.Equal(t, "2024-03-05", draft.Date)
	assert.NotEmpty(t, draft.ID)
	assert.Empty(t, draft.Title)
}

func TestUpsertInsertSortsDescending(t *testing.T) {
	entries := []Entry{
		{ID: "a", Date: "2024-05-01", Title: "mayo"},
		{ID: "b", Date: "2024-01-01", Title: "enero"},
	}
	entries = Upsert(entries, Entry{ID: "c", Date: "2024-03-01", Title: "marzo"})

	require.Len(t, entries, 3)
	assert.Equal(t, []string{"mayo", "marzo", "enero"}, []string{entries[0].Title, entries[1].Title, entries[2].Title})
}

func TestUpsertReplacesById(t *testing.T) {
	entries := []Entry{{ID: "a", Date: "2024-05-01", Title: "antes"}}
	entries = Upsert(entries, Entry{ID: "a", Date: "2024-05-01", Title: "despues"})

	require.Len(t, entries, 1)
	assert.Equal(t, "despues", entries[0].Title)
}

func TestUpsertStableOnEqualDates(t *testing.T) {
	entries := []Entry{
		{ID: "a", Date: "2024-05-01", Title: "primera"},
		{ID: "b", Date: "2024-05-01", Title: "segunda"},
	}
	entries = Upsert(entries, Entry{ID: "c", Date: "2024-05-01", Title: "tercera"})

	require.Len(t, entries, 3)
	assert.Equal(t, "primera", entries[0].Title)
	assert.Equal(t, "segunda", entries[1].Title)
	assert.Equal(t, "tercera", entries[2].Title)
}

func TestFilterByDate(t *testing.T) {
	entries := []Entry{
		{ID: "a", Date: "2024-05-01"},
		{ID: "b", Date: "2024-03-01"},
		{ID: "c", Date: "2024-05-01"},
	}
	assert.Len(t, FilterByDate(entries, ""), 3)
	assert.Len(t, FilterByDate(entries, "2024-05-01"), 2)
	assert.Empty(t, FilterByDate(entries, "2020-01-01"))
}

func TestDistinctDates(t *testing.T) {
	entries := []Entry{
		{ID: "a", Date: "2024-03-01"},
		{ID: "b", Date: "2024-05-01"},
		{ID: "c", Date: "2024-03-01"},
	}
	assert.Equal(t, []string{"2024-05-01", "2024-03-01"}, DistinctDates(entries))
}
