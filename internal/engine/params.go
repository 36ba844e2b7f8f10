package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Param is one submitted request parameter. Values keeps submission order.
// Nested is set when the parameter was submitted as a form array or object
// (?filter[category]=x) and its values were flattened.
type Param struct {
	Name   string   `json:"name" mapstructure:"name"`
	Values []string `json:"values" mapstructure:"values"`
	Nested bool     `json:"nested,omitempty" mapstructure:"nested"`
}

// Params is the ordered parameter list of a request.
type Params []Param

// Get returns the values of the first parameter named name.
func (p Params) Get(name string) []string {
	for _, param := range p {
		if param.Name == name {
			return param.Values
		}
	}
	return nil
}

// Add appends a flat parameter.
func (p *Params) Add(name string, values ...string) {
	*p = append(*p, Param{Name: name, Values: values})
}

// HasFirstValue reports whether target equals the first value of any flat
// parameter. Nested submissions never match.
func (p Params) HasFirstValue(target string) bool {
	for _, param := range p {
		if param.Nested || len(param.Values) == 0 {
			continue
		}
		if param.Values[0] == target {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the list form, which keeps parameter order.
func (p Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Param(p))
}

// UnmarshalJSON accepts either the object form {"id": ["1"], "f": [{"a": "b"}]}
// or the list form [{"name": "id", "values": ["1"]}]. Object key order is kept.
func (p *Params) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}

	switch data[0] {
	case '[':
		var list []struct {
			Name   string          `json:"name"`
			Values json.RawMessage `json:"values"`
			Nested bool            `json:"nested"`
		}
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		out := make(Params, 0, len(list))
		for _, item := range list {
			values, nested, err := flattenRaw(item.Values)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", item.Name, err)
			}
			out = append(out, Param{Name: item.Name, Values: values, Nested: nested || item.Nested})
		}
		*p = out
		return nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			return err
		}
		var out Params
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			name, _ := tok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("parameter %q: %w", name, err)
			}
			values, nested, err := flattenRaw(raw)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", name, err)
			}
			out = append(out, Param{Name: name, Values: values, Nested: nested})
		}
		*p = out
		return nil
	default:
		return fmt.Errorf("parameters: unexpected JSON %q", string(data[:1]))
	}
}

// flattenRaw turns a parameter value into its flat value list.
// A top-level array of scalars is a plain multi-value parameter; any object
// encountered marks the parameter as nested.
func flattenRaw(raw json.RawMessage) ([]string, bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values []string
	nested, err := flattenValue(dec, &values, 0)
	return values, nested, err
}

func flattenValue(dec *json.Decoder, out *[]string, depth int) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	switch t := tok.(type) {
	case json.Delim:
		nested := false
		switch t {
		case '[':
			// arrays below the top level only appear inside form-array submissions
			nested = depth > 0
			for dec.More() {
				n, err := flattenValue(dec, out, depth+1)
				if err != nil {
					return false, err
				}
				nested = nested || n
			}
		case '{':
			nested = true
			for dec.More() {
				if _, err := dec.Token(); err != nil { // key
					return false, err
				}
				if _, err := flattenValue(dec, out, depth+1); err != nil {
					return false, err
				}
			}
		}
		if _, err := dec.Token(); err != nil { // closing delimiter
			return false, err
		}
		return nested, nil
	case string:
		*out = append(*out, t)
	case json.Number:
		*out = append(*out, t.String())
	case bool:
		if t {
			*out = append(*out, "true")
		} else {
			*out = append(*out, "false")
		}
	case nil:
	}
	return false, nil
}
