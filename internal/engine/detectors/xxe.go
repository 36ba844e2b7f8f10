package detectors

import (
	"strings"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// XXEDetector flags external entities using dangerous protocols.
type XXEDetector struct{}

func NewXXEDetector() *XXEDetector {
	return &XXEDetector{}
}

func (d *XXEDetector) Name() string {
	return "xxe"
}

var xxeRules = []engine.Rule[*engine.XXEEvent]{
	{
		Algorithm:  "xxe_protocol",
		Confidence: 100,
		Match: func(e *engine.XXEEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			protocol, _, ok := strings.Cut(e.Entity, "://")
			if !ok || !entry.List("protocols").Has(protocol) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "SSRF or blind XXE using the " + protocol + " protocol"}, true
		},
	},
	{
		// Relative file entities (file://xwork.dtd) are common in legitimate documents.
		Algorithm:  "xxe_file",
		Confidence: 90,
		Match: func(e *engine.XXEEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			protocol, address, ok := strings.Cut(e.Entity, "://")
			if !ok || protocol != "file" || !strings.HasPrefix(address, "/") {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "external entity reads local file " + address}, true
		},
	},
}

func (d *XXEDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.XXEEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(xxeRules, e, rc, m)
}
