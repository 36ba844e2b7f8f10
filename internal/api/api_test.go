package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/palisade-rasp/internal/auth"
	"github.com/triage-ai/palisade-rasp/internal/chread"
	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/engine/detectors"
	"github.com/triage-ai/palisade-rasp/internal/matrix"
	"github.com/triage-ai/palisade-rasp/internal/service"
	"github.com/triage-ai/palisade-rasp/internal/storage"
	"github.com/triage-ai/palisade-rasp/internal/store"
	"go.uber.org/zap"
)

// --- fakes ---

type memWriter struct {
	mu     sync.Mutex
	events []*storage.AttackEvent
}

func (w *memWriter) Write(e *storage.AttackEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *memWriter) Close() {}

type fakeProjects struct {
	projects map[string]*store.Project
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[string]*store.Project{}}
}

func (f *fakeProjects) CreateProject(_ context.Context, name, mode string) (*store.Project, string, error) {
	if mode == "" {
		mode = "enforce"
	}
	if mode != "enforce" && mode != "shadow" {
		return nil, "", store.ErrInvalidMode
	}
	p := &store.Project{ID: "p" + name, Name: name, APIKeyPrefix: "tsk_abcd", Mode: mode, FailOpen: true}
	f.projects[p.ID] = p
	return p, "tsk_abcd1234", nil
}

func (f *fakeProjects) ListProjects(context.Context) ([]*store.Project, error) {
	var out []*store.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*store.Project, error) {
	return f.projects[id], nil
}

func (f *fakeProjects) UpdateProject(_ context.Context, id string, params store.UpdateProjectParams) (*store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	if params.Mode != nil {
		p.Mode = *params.Mode
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	return p, nil
}

func (f *fakeProjects) DeleteProject(_ context.Context, id string) error {
	if _, ok := f.projects[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeProjects) RotateAPIKey(_ context.Context, id string) (*store.Project, string, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, "", sql.ErrNoRows
	}
	return p, "tsk_new", nil
}

type fakeMatrices struct {
	saved []json.RawMessage
}

func (f *fakeMatrices) GetActiveMatrix(context.Context) (*store.MatrixVersion, error) {
	if len(f.saved) == 0 {
		return nil, nil
	}
	return &store.MatrixVersion{Version: int64(len(f.saved)), Document: f.saved[len(f.saved)-1]}, nil
}

func (f *fakeMatrices) SaveMatrix(_ context.Context, doc json.RawMessage, comment string) (*store.MatrixVersion, error) {
	f.saved = append(f.saved, doc)
	return &store.MatrixVersion{Version: int64(len(f.saved)), Document: doc, Comment: comment, CreatedAt: time.Now()}, nil
}

type fakeReader struct {
	lastList chread.ListEventsParams
	lastDays int
	events   []chread.EventRow
}

func (f *fakeReader) ListEvents(_ context.Context, p chread.ListEventsParams) ([]chread.EventRow, int, error) {
	f.lastList = p
	return f.events, len(f.events), nil
}

func (f *fakeReader) GetEvent(_ context.Context, _, requestID string) (*chread.EventRow, error) {
	for i := range f.events {
		if f.events[i].RequestID == requestID {
			return &f.events[i], nil
		}
	}
	return nil, nil
}

func (f *fakeReader) GetAnalytics(_ context.Context, _ string, days int) (*chread.AnalyticsResult, error) {
	f.lastDays = days
	return &chread.AnalyticsResult{Summary: chread.SummaryStats{Attacks: 3, Blocks: 2}}, nil
}

type failingAuth struct{ err error }

func (a failingAuth) Verify(context.Context, auth.Credentials) (*auth.ProjectContext, error) {
	return nil, a.err
}

// --- helpers ---

func newTestDeps(t *testing.T, mode string) (*Dependencies, *memWriter) {
	t.Helper()
	cache := engine.NewQueryCache(10)
	eng := engine.New(engine.Options{
		Matrix: engine.NewMatrixHolder(matrix.Default()),
		Cache:  cache,
		Logger: zap.NewNop(),
	})
	detectors.Register(eng, cache)
	w := &memWriter{}
	return &Dependencies{
		Evaluator: service.NewEvaluator(eng, w, nil, zap.NewNop()),
		Auth:      auth.NewStaticAuthenticator("proj_test", mode),
		AuthCache: auth.NewAuthCache(time.Minute),
		Projects:  newFakeProjects(),
		Matrices:  &fakeMatrices{},
		Reader:    &fakeReader{},
		Logger:    zap.NewNop(),
	}, w
}

func do(t *testing.T, h http.Handler, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer tsk_test_key")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

var stackedSQL = map[string]any{
	"type":   "sql",
	"params": map[string]any{"query": "select 1;select 2", "server": "mysql"},
}

// --- evaluate ---

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		body       any
		authed     bool
		wantStatus int
		wantAction string
		wantAlgo   string
	}{
		{"enforce blocks stacked query", auth.ModeEnforce, stackedSQL, true, http.StatusOK, "block", "sqli_policy"},
		{"shadow returns clean", auth.ModeShadow, stackedSQL, true, http.StatusOK, "ignore", ""},
		{"benign query", auth.ModeEnforce, map[string]any{
			"type":   "sql",
			"params": map[string]any{"query": "select * from users where id = 4", "server": "mysql"},
		}, true, http.StatusOK, "ignore", ""},
		{"ssrf metadata", auth.ModeEnforce, map[string]any{
			"type":   "ssrf",
			"params": map[string]any{"url": "http://169.254.169.254/latest/meta-data/", "hostname": "169.254.169.254", "ip": []string{"169.254.169.254"}},
		}, true, http.StatusOK, "block", "ssrf_aws"},
		{"no credentials", auth.ModeEnforce, stackedSQL, false, http.StatusUnauthorized, "", ""},
		{"unknown kind", auth.ModeEnforce, map[string]any{"type": "telepathy", "params": map[string]any{}}, true, http.StatusBadRequest, "", ""},
		{"malformed body", auth.ModeEnforce, "{not json", true, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestDeps(t, tt.mode)
			rec := do(t, NewRouter(deps), http.MethodPost, "/v1/evaluate", tt.body, tt.authed)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[map[string]any](t, rec)
			if got["action"] != tt.wantAction {
				t.Errorf("expected action %q, got %v", tt.wantAction, got["action"])
			}
			if tt.wantAlgo != "" && got["algorithm"] != tt.wantAlgo {
				t.Errorf("expected algorithm %q, got %v", tt.wantAlgo, got["algorithm"])
			}
		})
	}
}

func TestEvaluate_ParametersInSubmissionOrder(t *testing.T) {
	value := "x' or 'a'='a' or 'b'='b"
	query := "select * from users where name='" + value + "'"
	body := func(params string) string {
		q, _ := json.Marshal(query)
		return `{"type": "sql", "params": {"query": ` + string(q) + `, "server": "mysql"}, "context": {"parameter": ` + params + `}}`
	}
	full, _ := json.Marshal([]string{query})
	part, _ := json.Marshal([]string{value})

	tests := []struct {
		name       string
		params     string
		wantAction string
		wantAlgo   string
	}{
		{"whole query first", `{"zzz": ` + string(full) + `, "aaa": ` + string(part) + `}`, "log", "sqli_dbmanager"},
		{"fragment first", `{"aaa": ` + string(part) + `, "zzz": ` + string(full) + `}`, "block", "sqli_userinput"},
		{"list form", `[{"name": "zzz", "values": ` + string(full) + `}, {"name": "aaa", "values": ` + string(part) + `}]`, "log", "sqli_dbmanager"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestDeps(t, auth.ModeEnforce)
			h := NewRouter(deps)
			rec := do(t, h, http.MethodPut, "/api/rasp/matrix", ReplaceMatrixReq{
				Matrix: modifiedMatrix(t, "sqli_dbmanager", "log"),
			}, false)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}

			rec = do(t, h, http.MethodPost, "/v1/evaluate", body(tt.params), true)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			got := decode[map[string]any](t, rec)
			if got["action"] != tt.wantAction || got["algorithm"] != tt.wantAlgo {
				t.Errorf("expected %s/%s, got %v/%v", tt.wantAction, tt.wantAlgo, got["action"], got["algorithm"])
			}
		})
	}
}

func TestEvaluate_RecordsAttackEvent(t *testing.T) {
	deps, w := newTestDeps(t, auth.ModeShadow)
	rec := do(t, NewRouter(deps), http.MethodPost, "/v1/evaluate", stackedSQL, true)
	got := decode[map[string]any](t, rec)

	if len(w.events) != 1 {
		t.Fatalf("expected one attack event, got %d", len(w.events))
	}
	e := w.events[0]
	if e.RequestID != got["request_id"] || e.ProjectID != "proj_test" || e.Source != "http" {
		t.Errorf("unexpected event %+v for response %v", e, got)
	}
	if !e.IsShadow || got["is_shadow"] != true {
		t.Error("expected shadow event")
	}
	if got["algorithm"] != "" || got["confidence"] != float64(0) || got["detected_algorithm"] != "sqli_policy" {
		t.Errorf("shadow response should be clean with the detection under detected_*, got %v", got)
	}
}

func TestEvaluate_AuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"backend down", auth.ErrAuthUnavailable, http.StatusServiceUnavailable},
		{"bad key", auth.ErrInvalidAPIKey, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestDeps(t, auth.ModeEnforce)
			deps.Auth = failingAuth{err: tt.err}
			rec := do(t, NewRouter(deps), http.MethodPost, "/v1/evaluate", stackedSQL, true)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

// --- projects ---

func TestProjects_Lifecycle(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPost, "/api/rasp/projects", CreateProjectReq{Name: "shop", Mode: "shadow"}, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[CreateProjectResp](t, rec)
	if created.APIKey == "" || created.Mode != "shadow" {
		t.Fatalf("unexpected create response %+v", created)
	}

	rec = do(t, h, http.MethodGet, "/api/rasp/projects/"+created.ID, nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	deps.AuthCache.Set("tsk_cached", &auth.ProjectContext{ProjectID: created.ID, Mode: auth.ModeShadow})
	rec = do(t, h, http.MethodPatch, "/api/rasp/projects/"+created.ID, map[string]any{"mode": "enforce"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}
	if got := decode[ProjectResp](t, rec); got.Mode != "enforce" {
		t.Errorf("expected enforce, got %s", got.Mode)
	}
	if deps.AuthCache.Len() != 0 {
		t.Error("mode change should evict cached auth for the project")
	}

	rec = do(t, h, http.MethodPost, "/api/rasp/projects/"+created.ID+"/rotate-key", nil, false)
	if rec.Code != http.StatusOK || decode[RotateKeyResp](t, rec).APIKey != "tsk_new" {
		t.Errorf("rotate: unexpected %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/rasp/projects/"+created.ID, nil, false)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/rasp/projects/"+created.ID, nil, false)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestProjects_Validation(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"empty name", http.MethodPost, "/api/rasp/projects", CreateProjectReq{}, http.StatusBadRequest},
		{"bad mode on create", http.MethodPost, "/api/rasp/projects", CreateProjectReq{Name: "x", Mode: "audit"}, http.StatusBadRequest},
		{"bad mode on update", http.MethodPatch, "/api/rasp/projects/px", map[string]any{"mode": "audit"}, http.StatusBadRequest},
		{"update missing", http.MethodPatch, "/api/rasp/projects/nope", map[string]any{"name": "y"}, http.StatusNotFound},
		{"get missing", http.MethodGet, "/api/rasp/projects/nope", nil, http.StatusNotFound},
		{"rotate missing", http.MethodPost, "/api/rasp/projects/nope/rotate-key", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestDeps(t, auth.ModeEnforce)
			rec := do(t, NewRouter(deps), tt.method, tt.path, tt.body, false)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUnconfiguredBackends(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	deps.Projects = nil
	deps.Reader = nil
	h := NewRouter(deps)

	for _, path := range []string{"/api/rasp/projects", "/api/rasp/events?project_id=p", "/api/rasp/analytics?project_id=p"} {
		if rec := do(t, h, http.MethodGet, path, nil, false); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}

// --- matrix ---

func modifiedMatrix(t *testing.T, algorithm, action string) json.RawMessage {
	t.Helper()
	var doc map[string]map[string]any
	if err := json.Unmarshal(matrix.DefaultJSON(), &doc); err != nil {
		t.Fatal(err)
	}
	doc[algorithm]["action"] = action
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestReplaceMatrix_TakesEffect(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPut, "/api/rasp/matrix", ReplaceMatrixReq{
		Matrix:  modifiedMatrix(t, "sqli_policy", "log"),
		Comment: "observe stacked queries",
	}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[MatrixResp](t, rec)
	if resp.Version == nil || *resp.Version != 1 {
		t.Errorf("expected stored version 1, got %v", resp.Version)
	}

	rec = do(t, h, http.MethodPost, "/v1/evaluate", stackedSQL, true)
	if got := decode[map[string]any](t, rec); got["action"] != "log" {
		t.Errorf("new matrix should downgrade sqli_policy to log, got %v", got["action"])
	}

	rec = do(t, h, http.MethodGet, "/api/rasp/matrix", nil, false)
	if !strings.Contains(rec.Body.String(), `"version":1`) {
		t.Errorf("GET should report version 1, got %s", rec.Body.String())
	}
}

func TestReplaceMatrix_Invalid(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPut, "/api/rasp/matrix", ReplaceMatrixReq{
		Matrix: modifiedMatrix(t, "sqli_policy", "explode"),
	}, false)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if got := decode[ValidateMatrixResp](t, rec); got.Valid || len(got.Errors) == 0 {
		t.Errorf("expected validation errors, got %+v", got)
	}
	if len(deps.Matrices.(*fakeMatrices).saved) != 0 {
		t.Error("invalid matrix must not be stored")
	}

	rec = do(t, h, http.MethodPost, "/v1/evaluate", stackedSQL, true)
	if got := decode[map[string]any](t, rec); got["action"] != "block" {
		t.Errorf("active matrix should be unchanged, got %v", got["action"])
	}
}

func TestValidateMatrix(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPost, "/api/rasp/matrix/validate", json.RawMessage(matrix.DefaultJSON()), false)
	if got := decode[ValidateMatrixResp](t, rec); !got.Valid {
		t.Errorf("default matrix should validate, got %+v", got)
	}
}

// --- events ---

func TestListEvents_Filters(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	reader := &fakeReader{events: []chread.EventRow{{RequestID: "r1", Kind: "sql", IsShadow: 1}}}
	deps.Reader = reader
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/rasp/events?project_id=p1&kind=sql&algorithm=sqli_policy&is_shadow=true&page_size=1000&page=0", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := reader.lastList
	if p.ProjectID != "p1" || p.Kind == nil || *p.Kind != "sql" || p.Algorithm == nil || *p.Algorithm != "sqli_policy" {
		t.Errorf("filters not passed through: %+v", p)
	}
	if p.IsShadow == nil || !*p.IsShadow || p.PageSize != 200 || p.Page != 1 {
		t.Errorf("unexpected shadow/page settings: %+v", p)
	}
	resp := decode[EventListResp](t, rec)
	if len(resp.Events) != 1 || !resp.Events[0].IsShadow || resp.Events[0].URL != nil || resp.Events[0].Stack == nil {
		t.Errorf("unexpected events %+v", resp.Events)
	}
}

func TestEvents_RequireProject(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)
	for _, path := range []string{"/api/rasp/events", "/api/rasp/events/r1", "/api/rasp/analytics"} {
		if rec := do(t, h, http.MethodGet, path, nil, false); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestGetEvent(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	deps.Reader = &fakeReader{events: []chread.EventRow{{RequestID: "r1", Algorithm: "xxe_file"}}}
	h := NewRouter(deps)

	if rec := do(t, h, http.MethodGet, "/api/rasp/events/r1?project_id=p", nil, false); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/rasp/events/r2?project_id=p", nil, false); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAnalytics_ClampsDays(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	reader := &fakeReader{}
	deps.Reader = reader
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/rasp/analytics?project_id=p&days=365", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reader.lastDays != 90 {
		t.Errorf("expected days clamped to 90, got %d", reader.lastDays)
	}
	if got := decode[chread.AnalyticsResult](t, rec); got.Summary.Attacks != 3 {
		t.Errorf("unexpected analytics %+v", got)
	}
}

func TestHealthzAndCORS(t *testing.T) {
	deps, _ := newTestDeps(t, auth.ModeEnforce)
	h := NewRouter(deps)

	if rec := do(t, h, http.MethodGet, "/healthz", nil, false); rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodOptions, "/v1/evaluate", nil, false)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: unexpected %d %v", rec.Code, rec.Header())
	}
}
