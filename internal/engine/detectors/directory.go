package detectors

import "github.com/triage-ai/palisade-rasp/internal/engine"

// DirectoryDetector flags directory listings typical of webshell file managers.
type DirectoryDetector struct {
	rules []engine.Rule[*engine.DirectoryEvent]
}

// NewDirectoryDetector creates the detector. Listings reached from evaluated
// code are recognized with classifiers; nil uses the PHP classifier only.
func NewDirectoryDetector(classifiers StackClassifiers) *DirectoryDetector {
	if classifiers == nil {
		classifiers = StackClassifiers{"php": PHPStackClassifier{}}
	}
	return &DirectoryDetector{rules: []engine.Rule[*engine.DirectoryEvent]{
		{
			Algorithm:  "directory_unwanted",
			Confidence: 100,
			Match: func(e *engine.DirectoryEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
				if !entry.List("directories").Has(e.RealPath) {
					return engine.Finding{}, false
				}
				return engine.Finding{Message: "webshell file manager, listing sensitive directory " + e.RealPath}, true
			},
		},
		{
			Algorithm:  "directory_outsideWebroot",
			Confidence: 90,
			Match: func(e *engine.DirectoryEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
				if !IsOutsideWebroot(rc.AppBasePath, e.RealPath, e.Path) {
					return engine.Finding{}, false
				}
				return engine.Finding{Message: "listing a directory outside the web root " + rc.AppBasePath}, true
			},
		},
		{
			Algorithm:  "directory_reflect",
			Confidence: 90,
			Match: func(_ *engine.DirectoryEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
				msg, ok := classifiers.Classify(rc.Language, rc.Stack)
				if !ok {
					return engine.Finding{}, false
				}
				return engine.Finding{Message: "directory listing from " + msg}, true
			},
		},
	}}
}

func (d *DirectoryDetector) Name() string {
	return "directory"
}

func (d *DirectoryDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.DirectoryEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(d.rules, e, rc, m)
}
