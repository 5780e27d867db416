package listing

import (
	"bytes"
	"iter"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NotFound is the placeholder stored for an attribute that could not be determined.
const NotFound = "_Not found_"

// IsMissing reports whether v carries no usable attribute value.
func IsMissing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", strings.ToLower(NotFound), "unknown", "n/a", "none", "not available":
		return true
	}
	return false
}

// Pair is a single attribute name/value.
type Pair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attributes is an insertion-ordered mapping of attribute name to value.
// The zero value is an empty mapping ready to use.
type Attributes struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewAttributes builds a mapping from pairs in order. Later duplicates overwrite
// earlier values without moving them.
func NewAttributes(pairs ...Pair) Attributes {
	a := Attributes{m: orderedmap.New[string, string](len(pairs))}
	for _, p := range pairs {
		a.m.Set(p.Name, p.Value)
	}
	return a
}

// Set stores value under name, appending name if it is new.
func (a *Attributes) Set(name, value string) {
	if a.m == nil {
		a.m = orderedmap.New[string, string]()
	}
	a.m.Set(name, value)
}

// Get returns the value stored under name.
func (a Attributes) Get(name string) (string, bool) {
	if a.m == nil {
		return "", false
	}
	return a.m.Get(name)
}

// Has reports whether name is present.
func (a Attributes) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Len returns the number of attributes.
func (a Attributes) Len() int {
	if a.m == nil {
		return 0
	}
	return a.m.Len()
}

// All iterates name/value pairs in insertion order.
func (a Attributes) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if a.m == nil {
			return
		}
		for p := a.m.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// Pairs returns a copy of the mapping as an ordered slice.
func (a Attributes) Pairs() []Pair {
	out := make([]Pair, 0, a.Len())
	for k, v := range a.All() {
		out = append(out, Pair{Name: k, Value: v})
	}
	return out
}

// Found counts attributes carrying a concrete value.
func (a Attributes) Found() int {
	n := 0
	for _, v := range a.All() {
		if !IsMissing(v) {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	return NewAttributes(a.Pairs()...)
}

func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.m == nil {
		return []byte("{}"), nil
	}
	return a.m.MarshalJSON()
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		a.m = nil
		return nil
	}
	m := orderedmap.New[string, string]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	a.m = m
	return nil
}
