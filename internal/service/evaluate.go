// Package service runs one agent-submitted operation through the engine on
// behalf of an authenticated project. The gRPC and HTTP front ends share it.
package service

import (
	"time"

	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/eventcodec"
	"github.com/triage-ai/palisade-rasp/internal/storage"
	"go.uber.org/zap"
)

// ShadowObserver is told about verdicts that shadow mode downgraded.
type ShadowObserver interface {
	ObserveShadowed(algorithm string)
}

// Evaluator applies project mode to engine verdicts and records attacks.
type Evaluator struct {
	engine *engine.Engine
	writer storage.EventWriter
	shadow ShadowObserver
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. shadow may be nil.
func NewEvaluator(eng *engine.Engine, writer storage.EventWriter, shadow ShadowObserver, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{engine: eng, writer: writer, shadow: shadow, logger: logger}
}

// Engine returns the underlying engine.
func (e *Evaluator) Engine() *engine.Engine {
	return e.engine
}

// Result is what an agent receives back.
type Result struct {
	// Verdict is returned to the agent. In shadow mode it is engine.Clean.
	Verdict engine.Verdict
	// Detected is the verdict the matrix produced.
	Detected  engine.Verdict
	RequestID string
	IsShadow  bool
	LatencyMs float32
}

// Evaluate runs ev for project. Every non-clean verdict is written to the
// attack log with the detected action, so shadow projects can see what
// would have been blocked.
func (e *Evaluator) Evaluate(project *auth.ProjectContext, ev engine.Event, rc *engine.RequestContext, source string) Result {
	start := time.Now()
	detected := e.engine.Evaluate(ev, rc)
	elapsed := time.Since(start)

	res := Result{
		Verdict:   detected,
		Detected:  detected,
		LatencyMs: float32(elapsed.Microseconds()) / 1000,
	}
	if detected.IsClean() {
		return res
	}

	if project.Shadow() {
		res.IsShadow = true
		res.Verdict = engine.Clean
		if e.shadow != nil {
			e.shadow.ObserveShadowed(detected.Algorithm)
		}
	}

	projectID := ""
	if project != nil {
		projectID = project.ProjectID
	}
	event := storage.NewAttackEvent(projectID, ev, rc, detected, res.Verdict.Action, elapsed, source)
	res.RequestID = event.RequestID
	if e.writer != nil {
		e.writer.Write(event)
	}
	return res
}

// Fields renders the result for Struct and JSON responses. A shadowed
// detection is reported under detected_* keys.
func (r Result) Fields() map[string]any {
	f := eventcodec.VerdictFields(r.Verdict)
	f["request_id"] = r.RequestID
	f["is_shadow"] = r.IsShadow
	f["latency_ms"] = float64(r.LatencyMs)
	if r.IsShadow {
		for k, v := range eventcodec.VerdictFields(r.Detected) {
			f["detected_"+k] = v
		}
	}
	return f
}
