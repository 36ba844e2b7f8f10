package api

import (
	"net/http"

	"github.com/triage-ai/palisade-rasp/internal/eventcodec"
	"go.uber.org/zap"
)

// handleEvaluate is the HTTP twin of RaspService/Evaluate. The body is an
// event envelope: {"type": "sql", "params": {...}, "context": {...}}.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var env eventcodec.Envelope
	if err := readJSON(w, r, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	ev, rc, err := env.Decode()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	project := projectFromContext(r.Context())
	res := d.Evaluator.Evaluate(project, ev, rc, "http")
	if !res.Verdict.IsClean() || res.IsShadow {
		d.Logger.Debug("evaluate",
			zap.String("request_id", res.RequestID),
			zap.String("kind", string(ev.Kind())),
			zap.String("algorithm", res.Detected.Algorithm),
			zap.Bool("is_shadow", res.IsShadow),
		)
	}
	writeJSON(w, http.StatusOK, res.Fields())
}
