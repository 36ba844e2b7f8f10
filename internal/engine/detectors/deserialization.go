package detectors

import "github.com/triage-ai/palisade-rasp/internal/engine"

// DeserializationDetector flags known gadget classes being deserialized.
type DeserializationDetector struct{}

func NewDeserializationDetector() *DeserializationDetector {
	return &DeserializationDetector{}
}

func (d *DeserializationDetector) Name() string {
	return "deserialization"
}

var deserializationRules = []engine.Rule[*engine.DeserializationEvent]{
	{
		Algorithm:  "transformer_deser",
		Confidence: 100,
		Match: func(e *engine.DeserializationEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if !entry.List("classes").Has(e.Class) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "deserialization attack, gadget class " + e.Class}, true
		},
	},
}

func (d *DeserializationDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.DeserializationEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(deserializationRules, e, rc, m)
}
