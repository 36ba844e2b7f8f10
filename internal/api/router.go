package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/chread"
	"github.com/triage-ai/palisade-rasp/internal/service"
	"github.com/triage-ai/palisade-rasp/internal/store"
	"go.uber.org/zap"
)

// ProjectStore is the project CRUD surface of store.Store.
type ProjectStore interface {
	CreateProject(ctx context.Context, name, mode string) (*store.Project, string, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
}

// MatrixStore persists algorithm matrix versions.
type MatrixStore interface {
	GetActiveMatrix(ctx context.Context) (*store.MatrixVersion, error)
	SaveMatrix(ctx context.Context, doc json.RawMessage, comment string) (*store.MatrixVersion, error)
}

// EventReader reads the attack event log.
type EventReader interface {
	ListEvents(ctx context.Context, params chread.ListEventsParams) ([]chread.EventRow, int, error)
	GetEvent(ctx context.Context, projectID, requestID string) (*chread.EventRow, error)
	GetAnalytics(ctx context.Context, projectID string, days int) (*chread.AnalyticsResult, error)
}

// Dependencies holds shared state injected into all HTTP handlers. Leave
// Projects, Matrices or Reader nil when the backing database is not
// configured; their routes then answer 503.
type Dependencies struct {
	Evaluator *service.Evaluator
	Auth      auth.Authenticator
	AuthCache *auth.AuthCache // evicted on project changes; may be nil
	Projects  ProjectStore
	Matrices  MatrixStore
	Reader    EventReader
	Metrics   http.Handler // may be nil
	Logger    *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Agent endpoint (Bearer tsk_ token)
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.handleEvaluate))

	// Admin routes (no auth yet; dashboard auth added later)
	mux.HandleFunc("POST /api/rasp/projects", deps.requireProjects(deps.handleCreateProject))
	mux.HandleFunc("GET /api/rasp/projects", deps.requireProjects(deps.handleListProjects))
	mux.HandleFunc("GET /api/rasp/projects/{project_id}", deps.requireProjects(deps.handleGetProject))
	mux.HandleFunc("PATCH /api/rasp/projects/{project_id}", deps.requireProjects(deps.handleUpdateProject))
	mux.HandleFunc("DELETE /api/rasp/projects/{project_id}", deps.requireProjects(deps.handleDeleteProject))
	mux.HandleFunc("POST /api/rasp/projects/{project_id}/rotate-key", deps.requireProjects(deps.handleRotateKey))

	// Algorithm matrix
	mux.HandleFunc("GET /api/rasp/matrix", deps.handleGetMatrix)
	mux.HandleFunc("PUT /api/rasp/matrix", deps.handleReplaceMatrix)
	mux.HandleFunc("POST /api/rasp/matrix/validate", deps.handleValidateMatrix)

	// Attack events & analytics
	mux.HandleFunc("GET /api/rasp/events", deps.requireReader(deps.handleListEvents))
	mux.HandleFunc("GET /api/rasp/events/{request_id}", deps.requireReader(deps.handleGetEvent))
	mux.HandleFunc("GET /api/rasp/analytics", deps.requireReader(deps.handleGetAnalytics))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

func (d *Dependencies) requireProjects(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Projects == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
			return
		}
		next(w, r)
	}
}

func (d *Dependencies) requireReader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reader == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
			return
		}
		next(w, r)
	}
}
