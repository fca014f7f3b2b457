package history

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Entry is one dated clinical-history note. Date is a plain "YYYY-MM-DD"
// string; lexicographic order is chronological order.
type Entry struct {
	ID    string `json:"id"`
	Date  string `json:"date"`
	Title string `json:"title"`
	Notes string `json:"notes"`
}

// Parse decodes the stored history field. The field arrives either as a JSON
// string holding an encoded array, or as an already-decoded array; both are
// accepted. Malformed input degrades to no entries.
func Parse(raw json.RawMessage) []Entry {
	if len(raw) == 0 {
		return nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if encoded == "" {
			return nil
		}
		raw = json.RawMessage(encoded)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

// Serialize encodes entries in their persisted form. Unlike the other
// encoded fields an empty history serializes to "[]".
func Serialize(entries []Entry) string {
	if len(entries) == 0 {
		return "[]"
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// NewDraft returns a blank entry stamped with a time-based id and today's
// date.
func NewDraft(now time.Time) Entry {
	return Entry{
		ID:   strconv.FormatInt(now.UnixMilli(), 10),
		Date: now.Format("2006-01-02"),
	}
}

// Upsert inserts the entry, or replaces the entry sharing its id, then
// re-sorts descending by date. The sort is stable so entries on the same
// date keep their relative order. There is no delete: history is an
// append-and-amend log.
func Upsert(entries []Entry, e Entry) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	replaced := false
	for _, existing := range entries {
		if existing.ID == e.ID {
			out = append(out, e)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}

// FilterByDate returns the entries on the given date; the empty date means
// no filter.
func FilterByDate(entries []Entry, date string) []Entry {
	if date == "" {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

// DistinctDates lists the dates with at least one entry, newest first.
func DistinctDates(entries []Entry) []string {
	seen := make(map[string]bool, len(entries))
	var dates []string
	for _, e := range entries {
		if !seen[e.Date] {
			seen[e.Date] = true
			dates = append(dates, e.Date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}
