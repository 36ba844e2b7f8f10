package detectors

import "github.com/triage-ai/palisade-rasp/internal/engine"

// CommandDetector flags process execution reached through reflection,
// deserialization or evaluated code, and optionally any command run while
// serving an HTTP request.
type CommandDetector struct {
	rules []engine.Rule[*engine.CommandEvent]
}

// NewCommandDetector creates the detector. A nil classifiers map uses
// DefaultStackClassifiers.
func NewCommandDetector(classifiers StackClassifiers) *CommandDetector {
	if classifiers == nil {
		classifiers = DefaultStackClassifiers()
	}
	return &CommandDetector{rules: []engine.Rule[*engine.CommandEvent]{
		{
			Algorithm:  "command_reflect",
			Confidence: 100,
			Match: func(_ *engine.CommandEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
				msg, ok := classifiers.Classify(rc.Language, rc.Stack)
				if !ok {
					return engine.Finding{}, false
				}
				return engine.Finding{Message: msg}, true
			},
		},
		{
			// Commands outside an HTTP request (cron jobs, startup) are left alone.
			Algorithm:  "command_other",
			Confidence: 90,
			Match: func(e *engine.CommandEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
				if rc.URL == "" {
					return engine.Finding{}, false
				}
				return engine.Finding{Message: "command execution during request: " + e.Command}, true
			},
		},
	}}
}

func (d *CommandDetector) Name() string {
	return "command"
}

func (d *CommandDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.CommandEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(d.rules, e, rc, m)
}
