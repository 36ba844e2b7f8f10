package detectors

import (
	"strings"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// OGNLDetector flags OGNL expressions that reference runtime internals.
type OGNLDetector struct{}

func NewOGNLDetector() *OGNLDetector {
	return &OGNLDetector{}
}

func (d *OGNLDetector) Name() string {
	return "ognl"
}

var ognlRules = []engine.Rule[*engine.OGNLEvent]{
	{
		Algorithm:  "ognl_exec",
		Confidence: 100,
		Match: func(e *engine.OGNLEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if e.Expression == "" {
				return engine.Finding{}, false
			}
			for _, payload := range entry.List("payloads").Items() {
				if payload != "" && strings.Contains(e.Expression, payload) {
					return engine.Finding{Message: "OGNL remote code execution, expression references " + payload}, true
				}
			}
			return engine.Finding{}, false
		},
	},
}

func (d *OGNLDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.OGNLEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(ognlRules, e, rc, m)
}
