package provenance

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Anchor is the external location a byte offset maps to: a page for PDFs, a
// timestamp for video, a heading path for structured text. Unused fields stay
// nil/empty.
type Anchor struct {
	PageNumber  *int     `json:"page_number,omitempty"`
	TimestampMS *int64   `json:"timestamp_ms,omitempty"`
	HeadingPath []string `json:"heading_path,omitempty"`
}

// LocationMap maps byte offsets in extracted text to anchors. Lookups resolve
// to the entry with the greatest key not exceeding the offset. The map is
// built once by an extractor and immutable afterwards.
type LocationMap struct {
	offsets []int
	anchors []Anchor
}

type locEntry struct {
	Offset int    `json:"offset"`
	Anchor Anchor `json:"anchor"`
}

// NewLocationMap builds a map from offset→anchor entries. Entries are sorted;
// duplicate offsets keep the last anchor. The map must have an entry at
// offset 0 to cover the whole text.
func NewLocationMap(entries map[int]Anchor) (*LocationMap, error) {
	if _, ok := entries[0]; !ok {
		return nil, fmt.Errorf("location map must cover offset 0")
	}
	offsets := make([]int, 0, len(entries))
	for o := range entries {
		if o < 0 {
			return nil, fmt.Errorf("negative offset %d", o)
		}
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)
	lm := &LocationMap{
		offsets: offsets,
		anchors: make([]Anchor, len(offsets)),
	}
	for i, o := range offsets {
		lm.anchors[i] = entries[o]
	}
	return lm, nil
}

// Resolve returns the anchor for the greatest mapped offset ≤ o.
func (m *LocationMap) Resolve(o int) Anchor {
	if len(m.offsets) == 0 {
		return Anchor{}
	}
	i := sort.SearchInts(m.offsets, o+1) - 1
	if i < 0 {
		i = 0
	}
	return m.anchors[i]
}

// Len returns the number of mapped offsets.
func (m *LocationMap) Len() int { return len(m.offsets) }

// MarshalJSON encodes the map as an ordered entry list for blob storage.
func (m *LocationMap) MarshalJSON() ([]byte, error) {
	entries := make([]locEntry, len(m.offsets))
	for i, o := range m.offsets {
		entries[i] = locEntry{Offset: o, Anchor: m.anchors[i]}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores a map stored by MarshalJSON.
func (m *LocationMap) UnmarshalJSON(data []byte) error {
	var entries []locEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	byOffset := make(map[int]Anchor, len(entries))
	for _, e := range entries {
		byOffset[e.Offset] = e.Anchor
	}
	lm, err := NewLocationMap(byOffset)
	if err != nil {
		return err
	}
	*m = *lm
	return nil
}
