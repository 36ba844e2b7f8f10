// Package matrix loads, validates and reloads the algorithm matrix that
// gates every detector.
package matrix

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"gopkg.in/yaml.v3"
)

//go:embed default_matrix.json
var defaultMatrixJSON []byte

//go:embed matrix_schema.json
var schemaJSON []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid algorithm matrix")

// ValidationError lists the schema problems of a rejected matrix.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("matrix schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("matrix_schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("matrix schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("matrix_schema.json")
	})
	return schema, schemaErr
}

// DefaultJSON returns a copy of the built-in matrix document.
func DefaultJSON() []byte {
	return append([]byte(nil), defaultMatrixJSON...)
}

// Default returns the built-in matrix.
func Default() *engine.Matrix {
	m, err := engine.ParseMatrix(defaultMatrixJSON)
	if err != nil {
		panic(fmt.Sprintf("built-in matrix: %v", err))
	}
	return m
}

// Validate checks a JSON matrix document against the schema.
func Validate(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Problems: []string{"not valid JSON: " + err.Error()}}
	}
	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Problems: flattenCauses(verr)}
		}
		return &ValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

func flattenCauses(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{loc + ": " + verr.Error()}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}

// Parse validates and decodes a JSON matrix document.
func Parse(data []byte) (*engine.Matrix, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	return engine.ParseMatrix(data)
}

// ParseYAML converts a YAML matrix document to JSON and parses it.
func ParseYAML(data []byte) (*engine.Matrix, []byte, error) {
	jsonData, err := YAMLToJSON(data)
	if err != nil {
		return nil, nil, err
	}
	m, err := Parse(jsonData)
	if err != nil {
		return nil, nil, err
	}
	return m, jsonData, nil
}

// YAMLToJSON re-encodes a YAML document as JSON.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse matrix yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode matrix yaml as json: %w", err)
	}
	return out, nil
}

// Load reads a matrix file. Files ending in .yaml or .yml are YAML,
// everything else JSON. It returns the matrix and its JSON form.
func Load(path string) (*engine.Matrix, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read matrix: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		m, err := Parse(data)
		if err != nil {
			return nil, nil, err
		}
		return m, data, nil
	}
}
