package api

import (
	"encoding/json"
	"time"
)

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/rasp/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/rasp/projects/{id}.
type UpdateProjectReq struct {
	Name     *string `json:"name,omitempty"`
	Mode     *string `json:"mode,omitempty"`
	FailOpen *bool   `json:"fail_open,omitempty"`
}

// ProjectResp is a project without its plaintext key.
type ProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Algorithm matrix ---

// ReplaceMatrixReq is the JSON body for PUT /api/rasp/matrix.
type ReplaceMatrixReq struct {
	Matrix  json.RawMessage `json:"matrix"`
	Comment string          `json:"comment,omitempty"`
}

// MatrixResp is the active algorithm matrix. Version is null when the
// matrix was never persisted.
type MatrixResp struct {
	Version   *int64          `json:"version"`
	Comment   *string         `json:"comment"`
	CreatedAt *time.Time      `json:"created_at"`
	Matrix    json.RawMessage `json:"matrix"`
}

// ValidateMatrixResp reports schema violations of a candidate matrix.
type ValidateMatrixResp struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// --- Attack events ---

// AttackEventResp is one recorded detection.
type AttackEventResp struct {
	RequestID      string    `json:"request_id"`
	ProjectID      string    `json:"project_id"`
	Kind           string    `json:"kind"`
	Algorithm      string    `json:"algorithm"`
	Action         string    `json:"action"`
	Verdict        string    `json:"verdict"`
	Message        string    `json:"message"`
	Confidence     int       `json:"confidence"`
	IsShadow       bool      `json:"is_shadow"`
	URL            *string   `json:"url"`
	Method         *string   `json:"method"`
	Language       *string   `json:"language"`
	PayloadPreview string    `json:"payload_preview"`
	Stack          []string  `json:"stack"`
	LatencyMs      float32   `json:"latency_ms"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventListResp is a page of attack events.
type EventListResp struct {
	Events   []AttackEventResp `json:"events"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
