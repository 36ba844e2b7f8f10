package detectors

import (
	"strings"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// IncludeDetector flags local and remote file inclusion.
type IncludeDetector struct{}

func NewIncludeDetector() *IncludeDetector {
	return &IncludeDetector{}
}

func (d *IncludeDetector) Name() string {
	return "include"
}

// splitProtocol splits "proto://rest". ok is false when there is no protocol.
func splitProtocol(url string) (protocol, rest string, ok bool) {
	protocol, rest, ok = strings.Cut(url, "://")
	return strings.ToLower(protocol), rest, ok
}

var includeRules = []engine.Rule[*engine.IncludeEvent]{
	{
		Algorithm:  "include_outsideWebroot",
		Confidence: 100,
		Match: func(e *engine.IncludeEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if strings.Contains(e.URL, "://") || !IsOutsideWebroot(rc.AppBasePath, e.RealPath, e.URL) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "file inclusion outside the web root " + rc.AppBasePath}, true
		},
	},
	{
		Algorithm:  "include_http",
		Confidence: 70,
		Match: func(e *engine.IncludeEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			protocol, _, ok := splitProtocol(e.URL)
			if !ok || (protocol != "http" && protocol != "https") {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "remote file inclusion via " + e.Function}, true
		},
	},
	{
		Algorithm:  "include_dir",
		Confidence: 100,
		Match: func(e *engine.IncludeEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			protocol, rest, ok := splitProtocol(e.URL)
			if !ok || protocol != "file" || !strings.HasSuffix(rest, "/") {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "sensitive directory included via " + e.Function}, true
		},
	},
	{
		Algorithm:  "include_unwanted",
		Confidence: 100,
		Match: func(e *engine.IncludeEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			protocol, rest, ok := splitProtocol(e.URL)
			if !ok || protocol != "file" {
				return engine.Finding{}, false
			}
			name := basename(rest)
			if name == "" || !entry.List("filenames").Has(name) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "sensitive file " + name + " included via " + e.Function}, true
		},
	},
}

func (d *IncludeDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.IncludeEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(includeRules, e, rc, m)
}
