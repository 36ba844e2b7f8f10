package engine

// Detector is the interface every operation detector implements.
// Detect must be a pure function of its inputs (apart from the SQL query
// cache) and must not panic on well-formed input; missing fields yield Clean.
type Detector interface {
	// Name returns the detector's identifier (e.g., "sql").
	Name() string

	// Detect inspects ev under the matrix m.
	Detect(ev Event, rc *RequestContext, m *Matrix) Verdict
}

// Finding is what a rule predicate reports when it matches.
type Finding struct {
	Message string

	// Confidence overrides Rule.Confidence when non-zero.
	Confidence int

	// Algorithm, when set, reports the finding under another matrix entry
	// whose action then decides the verdict. An ignored entry drops the finding.
	Algorithm string
}

// Rule is one (predicate, outcome) pair of a detector's ordered chain.
// The matrix entry named Algorithm gates the rule and supplies its action.
type Rule[E any] struct {
	Algorithm string

	// Requires names another algorithm that must also be enabled.
	Requires string

	Confidence int
	Match      func(ev E, rc *RequestContext, entry Entry) (Finding, bool)
}

// RunRules evaluates rules in order and returns the verdict of the first
// match. Rules whose algorithm is ignored are skipped before their
// predicate runs.
func RunRules[E any](rules []Rule[E], ev E, rc *RequestContext, m *Matrix) Verdict {
	for _, rule := range rules {
		entry := m.Entry(rule.Algorithm)
		if !entry.Enabled() {
			continue
		}
		if rule.Requires != "" && !m.Entry(rule.Requires).Enabled() {
			continue
		}
		finding, ok := rule.Match(ev, rc, entry)
		if !ok {
			continue
		}
		algorithm, action := rule.Algorithm, entry.Action
		if finding.Algorithm != "" {
			algorithm, action = finding.Algorithm, m.Action(finding.Algorithm)
			if action == ActionIgnore {
				continue
			}
		}
		confidence := finding.Confidence
		if confidence == 0 {
			confidence = rule.Confidence
		}
		return Verdict{
			Action:     action,
			Message:    finding.Message,
			Confidence: confidence,
			Algorithm:  algorithm,
		}
	}
	return Clean
}

// Algorithms lists the matrix entries a rule chain depends on, in order.
func Algorithms[E any](rules []Rule[E]) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Algorithm)
	}
	return out
}
