package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
)

// Set is an immutable string set loaded from a matrix data list.
type Set map[string]struct{}

// NewSet builds a Set from items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Has reports whether item is in the set. A nil set contains nothing.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Items returns the members in sorted order.
func (s Set) Items() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// Entry is the configuration of one detection algorithm.
type Entry struct {
	Action   Action
	Features map[string]bool
	Lists    map[string]Set
}

// Enabled reports whether the algorithm should run at all.
func (e Entry) Enabled() bool {
	return e.Action != ActionIgnore
}

// Feature returns the named feature flag. Missing flags are off.
func (e Entry) Feature(name string) bool {
	return e.Features[name]
}

// List returns the named data list. Missing lists are empty.
func (e Entry) List(name string) Set {
	return e.Lists[name]
}

// Matrix maps algorithm names to their configuration. A Matrix is never
// mutated after construction; reloads publish a new one through MatrixHolder.
type Matrix struct {
	entries map[string]Entry
}

// NewMatrix builds a Matrix from entries. The map is copied.
func NewMatrix(entries map[string]Entry) *Matrix {
	m := &Matrix{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		m.entries[name] = e
	}
	return m
}

// Entry returns the configuration for name. Unknown names, and a nil
// Matrix, yield a zero Entry whose action is ignore.
func (m *Matrix) Entry(name string) Entry {
	if m == nil {
		return Entry{}
	}
	return m.entries[name]
}

// Action returns the configured action for name.
func (m *Matrix) Action(name string) Action {
	return m.Entry(name).Action
}

// Names returns the configured algorithm names in sorted order.
func (m *Matrix) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseMatrix decodes the JSON algorithm configuration:
//
//	{"sqli_policy": {"action": "block", "feature": {"no_hex": true}, "function_blacklist": {"sleep": true}},
//	 "ssrf_common": {"action": "block", "domains": [".nip.io"]}}
//
// Keys other than "action" and "feature" are data lists, given either as a
// string array or as an object of booleans (true members only).
func ParseMatrix(data []byte) (*Matrix, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ParseMatrix: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for name, fields := range raw {
		entry, err := parseEntry(fields)
		if err != nil {
			return nil, fmt.Errorf("ParseMatrix: %s: %w", name, err)
		}
		entries[name] = entry
	}
	return &Matrix{entries: entries}, nil
}

func parseEntry(fields map[string]json.RawMessage) (Entry, error) {
	var e Entry
	for key, value := range fields {
		switch key {
		case "action":
			if err := json.Unmarshal(value, &e.Action); err != nil {
				return Entry{}, err
			}
		case "feature":
			if err := json.Unmarshal(value, &e.Features); err != nil {
				return Entry{}, fmt.Errorf("feature: %w", err)
			}
		default:
			set, err := parseList(value)
			if err != nil {
				return Entry{}, fmt.Errorf("%s: %w", key, err)
			}
			if e.Lists == nil {
				e.Lists = make(map[string]Set)
			}
			e.Lists[key] = set
		}
	}
	return e, nil
}

func parseList(value json.RawMessage) (Set, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return Set{}, nil
	}
	switch value[0] {
	case '[':
		var items []string
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, err
		}
		return NewSet(items...), nil
	case '{':
		var flags map[string]bool
		if err := json.Unmarshal(value, &flags); err != nil {
			return nil, err
		}
		s := make(Set, len(flags))
		for item, on := range flags {
			if on {
				s[item] = struct{}{}
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("data list must be an array or an object of booleans")
	}
}

// MarshalJSON encodes the matrix back into the configuration shape.
// Data lists are written as sorted string arrays.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]any, len(m.entries))
	for name, e := range m.entries {
		fields := map[string]any{"action": e.Action.String()}
		if len(e.Features) > 0 {
			fields["feature"] = e.Features
		}
		for list, set := range e.Lists {
			fields[list] = set.Items()
		}
		out[name] = fields
	}
	return json.Marshal(out)
}

// MatrixHolder publishes the process-wide Matrix. Readers never observe a
// partially built matrix: a reload swaps the whole pointer.
type MatrixHolder struct {
	current atomic.Pointer[Matrix]
}

// NewMatrixHolder returns a holder publishing m.
func NewMatrixHolder(m *Matrix) *MatrixHolder {
	h := &MatrixHolder{}
	h.current.Store(m)
	return h
}

// Load returns the current matrix.
func (h *MatrixHolder) Load() *Matrix {
	return h.current.Load()
}

// Swap publishes m and returns the previous matrix.
func (h *MatrixHolder) Swap(m *Matrix) *Matrix {
	return h.current.Swap(m)
}
