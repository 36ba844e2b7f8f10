package engine

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseMatrix(t *testing.T) {
	m, err := ParseMatrix([]byte(`{
		"sqli_policy": {
			"action": "block",
			"feature": {"no_hex": true, "constant_compare": false},
			"function_blacklist": {"sleep": true, "hex": false}
		},
		"ssrf_common": {"action": "log", "domains": [".nip.io", ".xip.io"]},
		"xxe_file": {"action": "ignore"}
	}`))
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}

	policy := m.Entry("sqli_policy")
	if policy.Action != ActionBlock || !policy.Enabled() {
		t.Errorf("sqli_policy action = %s", policy.Action)
	}
	if !policy.Feature("no_hex") || policy.Feature("constant_compare") || policy.Feature("missing") {
		t.Errorf("features = %v", policy.Features)
	}
	blacklist := policy.List("function_blacklist")
	if !blacklist.Has("sleep") || blacklist.Has("hex") {
		t.Errorf("function_blacklist = %v, only true members count", blacklist.Items())
	}

	if got := m.Entry("ssrf_common").List("domains").Items(); !reflect.DeepEqual(got, []string{".nip.io", ".xip.io"}) {
		t.Errorf("domains = %v", got)
	}
	if m.Entry("xxe_file").Enabled() {
		t.Error("ignore entry reported enabled")
	}
	if got := m.Names(); !reflect.DeepEqual(got, []string{"sqli_policy", "ssrf_common", "xxe_file"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestMatrix_MissingEntryIsIgnore(t *testing.T) {
	m := NewMatrix(nil)
	if m.Action("sqli_userinput") != ActionIgnore || m.Entry("x").List("y").Has("z") {
		t.Error("missing entries must default to ignore with empty lists")
	}
	var nilMatrix *Matrix
	if nilMatrix.Action("anything") != ActionIgnore || nilMatrix.Names() != nil {
		t.Error("nil matrix must behave as empty")
	}
}

func TestParseMatrix_Errors(t *testing.T) {
	tests := map[string]string{
		"not json":         `{`,
		"unknown action":   `{"a": {"action": "deny"}}`,
		"bad list":         `{"a": {"action": "log", "paths": 3}}`,
		"bad feature":      `{"a": {"action": "log", "feature": ["x"]}}`,
		"entry not object": `{"a": "block"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseMatrix([]byte(doc)); err == nil {
				t.Errorf("expected error for %s", doc)
			}
		})
	}
}

func TestMatrix_MarshalRoundTrip(t *testing.T) {
	src := NewMatrix(map[string]Entry{
		"ognl_exec": {Action: ActionLog, Lists: map[string]Set{"payloads": NewSet("b", "a")}},
	})
	data, err := json.Marshal(src)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := ParseMatrix(data)
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	if back.Action("ognl_exec") != ActionLog || !back.Entry("ognl_exec").List("payloads").Has("a") {
		t.Errorf("round trip lost data: %s", data)
	}
}

func TestMatrixHolder_Swap(t *testing.T) {
	first := NewMatrix(map[string]Entry{"a": {Action: ActionLog}})
	second := NewMatrix(map[string]Entry{"a": {Action: ActionBlock}})
	h := NewMatrixHolder(first)

	if prev := h.Swap(second); prev != first {
		t.Error("Swap should return the previous matrix")
	}
	if h.Load().Action("a") != ActionBlock {
		t.Error("Load should return the swapped matrix")
	}
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"block": ActionBlock, " LOG ": ActionLog, "ignore": ActionIgnore, "": ActionIgnore} {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseAction("allow"); err == nil {
		t.Error("expected error for unknown action")
	}
}
