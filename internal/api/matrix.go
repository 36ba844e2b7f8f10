package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/triage-ai/palisade-rasp/internal/matrix"
	"go.uber.org/zap"
)

func (d *Dependencies) handleGetMatrix(w http.ResponseWriter, r *http.Request) {
	doc, err := json.Marshal(d.Evaluator.Engine().Matrix())
	if err != nil {
		d.Logger.Error("failed to encode matrix", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to encode matrix"})
		return
	}
	resp := MatrixResp{Matrix: doc}

	if d.Matrices != nil {
		mv, err := d.Matrices.GetActiveMatrix(r.Context())
		if err != nil {
			d.Logger.Error("failed to get matrix", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get matrix"})
			return
		}
		if mv != nil {
			resp.Version = &mv.Version
			resp.Comment = &mv.Comment
			resp.CreatedAt = &mv.CreatedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReplaceMatrix validates, persists and activates a new matrix. The
// engine swap purges the SQL query cache.
func (d *Dependencies) handleReplaceMatrix(w http.ResponseWriter, r *http.Request) {
	var req ReplaceMatrixReq
	if err := readJSON(w, r, &req); err != nil || len(req.Matrix) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	m, err := matrix.Parse(req.Matrix)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, validationResp(err))
		return
	}

	resp := MatrixResp{Matrix: req.Matrix}
	if d.Matrices != nil {
		mv, err := d.Matrices.SaveMatrix(r.Context(), req.Matrix, req.Comment)
		if err != nil {
			d.Logger.Error("failed to save matrix", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to save matrix"})
			return
		}
		resp.Version = &mv.Version
		resp.Comment = &mv.Comment
		resp.CreatedAt = &mv.CreatedAt
	}

	d.Evaluator.Engine().SwapMatrix(m)
	d.Logger.Info("algorithm matrix replaced", zap.Int64p("version", resp.Version))
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleValidateMatrix(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	if err := readJSON(w, r, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := matrix.Validate(doc); err != nil {
		writeJSON(w, http.StatusOK, validationResp(err))
		return
	}
	writeJSON(w, http.StatusOK, ValidateMatrixResp{Valid: true, Errors: []string{}})
}

func validationResp(err error) ValidateMatrixResp {
	var verr *matrix.ValidationError
	if errors.As(err, &verr) {
		return ValidateMatrixResp{Errors: verr.Problems}
	}
	return ValidateMatrixResp{Errors: []string{err.Error()}}
}
