package detectors

import (
	"encoding/json"
	"testing"

	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
)

// testMatrix returns the default matrix with the given actions overridden.
func testMatrix(t *testing.T, actions map[string]string) *engine.Matrix {
	t.Helper()
	var doc map[string]map[string]any
	if err := json.Unmarshal(matrix.DefaultJSON(), &doc); err != nil {
		t.Fatalf("decode default matrix: %v", err)
	}
	for name, action := range actions {
		if doc[name] == nil {
			doc[name] = map[string]any{}
		}
		doc[name]["action"] = action
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encode matrix: %v", err)
	}
	m, err := engine.ParseMatrix(data)
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	return m
}

func assertVerdict(t *testing.T, got engine.Verdict, action engine.Action, algorithm string, confidence int) {
	t.Helper()
	if got.Action != action {
		t.Fatalf("action = %s, want %s (verdict %+v)", got.Action, action, got)
	}
	if got.Algorithm != algorithm {
		t.Errorf("algorithm = %q, want %q", got.Algorithm, algorithm)
	}
	if got.Confidence != confidence {
		t.Errorf("confidence = %d, want %d", got.Confidence, confidence)
	}
}

func assertClean(t *testing.T, got engine.Verdict) {
	t.Helper()
	if got != engine.Clean {
		t.Fatalf("expected clean verdict, got %+v", got)
	}
}
