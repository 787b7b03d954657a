package palette

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one block state inside a payload palette.
type Key struct {
	Name     string
	Metadata int
}

// Air is returned for any index that the palette cannot resolve. Producers and consumers
// may disagree on a palette (partial or mismatched payloads); substituting air keeps the
// pipeline running at the cost of a silently wrong cell.
var Air = Key{Name: "air"}

func (k Key) String() string {
	return k.Name + "|" + strconv.Itoa(k.Metadata)
}

// ParseKey parses "name|metadata". A missing or malformed metadata part is read as 0.
func ParseKey(s string) Key {
	name, meta, ok := strings.Cut(s, "|")
	if !ok {
		return Key{Name: s}
	}
	m, err := strconv.Atoi(meta)
	if err != nil {
		m = 0
	}
	return Key{Name: name, Metadata: m}
}

// Entry is one (key, index) pair. On the wire it is a two element array:
// ["stone|0", 0].
type Entry struct {
	Key   Key
	Index int
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Key.String(), e.Index})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("palette entry: %w", err)
	}
	var key string
	if err := json.Unmarshal(raw[0], &key); err != nil {
		return fmt.Errorf("palette entry key: %w", err)
	}
	var idx int
	if err := json.Unmarshal(raw[1], &idx); err != nil {
		return fmt.Errorf("palette entry index: %w", err)
	}
	e.Key = ParseKey(key)
	e.Index = idx
	return nil
}

// Encoder assigns indices to keys in first-seen order. One Encoder covers exactly one
// encoded payload; it is not safe for concurrent use.
type Encoder struct {
	index   map[Key]int
	entries []Entry
}

func NewEncoder() *Encoder {
	return &Encoder{index: map[Key]int{}}
}

func (e *Encoder) Encode(k Key) int {
	if i, ok := e.index[k]; ok {
		return i
	}
	i := len(e.entries)
	e.index[k] = i
	e.entries = append(e.entries, Entry{Key: k, Index: i})
	return i
}

func (e *Encoder) Len() int { return len(e.entries) }

// Entries returns the palette in index order.
func (e *Encoder) Entries() []Entry {
	out := make([]Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Decoder resolves indices against one received palette.
type Decoder struct {
	byIndex map[int]Key
}

func NewDecoder(entries []Entry) *Decoder {
	d := &Decoder{byIndex: make(map[int]Key, len(entries))}
	for _, e := range entries {
		// First mapping wins if a producer repeats an index.
		if _, ok := d.byIndex[e.Index]; !ok {
			d.byIndex[e.Index] = e.Key
		}
	}
	return d
}

func (d *Decoder) Decode(index int) Key {
	if k, ok := d.byIndex[index]; ok {
		return k
	}
	return Air
}

// Decode is a one-shot linear lookup of index in entries.
func Decode(index int, entries []Entry) Key {
	for _, e := range entries {
		if e.Index == index {
			return e.Key
		}
	}
	return Air
}
