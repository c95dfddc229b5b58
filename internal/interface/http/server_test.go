package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/config"
	"github.com/osis-hub/program-hub/internal/app"
	"github.com/osis-hub/program-hub/internal/application/command"
	"github.com/osis-hub/program-hub/internal/application/query"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/internal/interface/http/handlers"
	"github.com/osis-hub/program-hub/pkg/logger"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

type testAPI struct {
	app     *app.App
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.New(logger.Options{Output: io.Discard})
	cfg := &config.Config{
		StorageDriver: config.StorageMemory,
		Postponement:  config.PostponementConfig{MaxYears: 6},
	}
	clock := func() time.Time { return time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC) }

	a, err := app.New(context.Background(), cfg, log, app.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	health := handlers.NewCompositeHealthChecker("test")
	srv := NewServer(DefaultConfig(), Dependencies{
		Commands:      a.Commands,
		Queries:       a.Queries,
		HealthChecker: health,
		Logger:        log,
	})
	return &testAPI{app: a, handler: srv.Handler()}
}

func (api *testAPI) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func (api *testAPI) saveNode(t *testing.T, code string, year int, nodeType programtree.NodeType) {
	t.Helper()
	n := programtree.NewNode(0, code, year, code, nodeType)
	require.NoError(t, api.app.Store.Nodes.Save(context.Background(), n))
}

// createBachelor creates the standard version of BIR1BA 2024 and returns the
// paths of its root and generated common core.
func (api *testAPI) createBachelor(t *testing.T) (root, core programtree.Path) {
	t.Helper()
	rec, env := api.do(t, http.MethodPost, "/api/v1/versions", map[string]any{
		"offer_acronym": "BIR1BA",
		"year":          2024,
		"root_code":     "LBIR100B",
		"root_title":    "Bachelier bioingenieur",
		"root_type":     "BACHELOR",
		"title_fr":      "Bachelier en sciences de l'ingenieur",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeData[command.VersionResult](t, env)

	_, env = api.do(t, http.MethodGet, "/api/v1/trees/LBIR100B/2024", nil)
	tree := decodeData[query.TreeDTO](t, env)
	require.Equal(t, result.RootID, tree.Root.ID)
	require.Len(t, tree.Root.Children, 1)
	return tree.Root.Path, tree.Root.Children[0].Path
}

func TestServer_TreeLifecycle(t *testing.T) {
	api := newTestAPI(t)
	root, core := api.createBachelor(t)
	api.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	api.saveNode(t, "LBIR1120", 2024, programtree.TypeLearningUnit)

	rec, env := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{
		"path":       core,
		"child_code": "LBIR1110",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeData[command.AttachNodeResult](t, env)
	assert.True(t, first.Path.HasPrefix(core))

	rec, env = api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{
		"path":       core,
		"child_code": "LBIR1120",
		"block":      12,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decodeData[command.AttachNodeResult](t, env)

	rec, env = api.do(t, http.MethodPut, "/api/v1/trees/LBIR100B/2024/prerequisites/"+url.PathEscape(first.Path.String()),
		map[string]string{"expression": "LBIR1120"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "LBIR1120", decodeData[command.SetPrerequisiteResult](t, env).Expression)

	rec, env = api.do(t, http.MethodGet, "/api/v1/trees/LBIR100B/2024/prerequisites/"+url.PathEscape(first.Path.String()), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"LBIR1120"}, decodeData[query.PrerequisiteDTO](t, env).Codes)

	rec, env = api.do(t, http.MethodPut, "/api/v1/trees/LBIR100B/2024/links", map[string]any{
		"path":         second.Path,
		"is_mandatory": false,
		"block":        1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, programtree.Block(1), decodeData[programtree.LinkAttributes](t, env).Block)

	rootIDs, err := root.IDs()
	require.NoError(t, err)
	rec, env = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/adjacency?root_id=%d", rootIDs[0]), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]programtree.AdjacencyRecord](t, env), 3)

	rec, env = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/roots?child_id=%d", first.Path.Last()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []programtree.RootRecord{{ChildID: first.Path.Last(), RootID: rootIDs[0]}},
		decodeData[[]programtree.RootRecord](t, env))

	rec, env = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/trees/search?node_id=%d", first.Path.Last()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decodeData[[]query.TreeSummaryDTO](t, env)
	require.Len(t, summaries, 1)
	assert.Equal(t, "LBIR100B", summaries[0].Code)

	// LBIR1120 is now a prerequisite of LBIR1110 and cannot leave the tree.
	rec, env = api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/detach", map[string]any{"path": second.Path})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, env.Error.Messages, "Cannot detach because LBIR1120 has prerequisites or is prerequisite in the tree")

	rec, env = api.do(t, http.MethodGet, "/api/v1/trees/LBIR100B/2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decodeData[query.TreeDTO](t, env)
	require.Len(t, tree.Root.Children, 1)
	require.Len(t, tree.Root.Children[0].Children, 2)
	assert.Equal(t, "LBIR1110", tree.Root.Children[0].Children[0].Code)
}

func TestServer_DetachNode(t *testing.T) {
	api := newTestAPI(t)
	_, core := api.createBachelor(t)
	api.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)

	_, env := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{"path": core, "child_code": "LBIR1110"})
	unit := decodeData[command.AttachNodeResult](t, env)

	rec, _ := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/detach", map[string]any{"path": unit.Path})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, env = api.do(t, http.MethodGet, "/api/v1/trees/LBIR100B/2024", nil)
	tree := decodeData[query.TreeDTO](t, env)
	assert.Empty(t, tree.Root.Children[0].Children)
}

func TestServer_MoveNode(t *testing.T) {
	api := newTestAPI(t)
	_, core := api.createBachelor(t)
	api.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	api.saveNode(t, "LBIR200G", 2024, programtree.TypeSubGroup)

	_, env := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{"path": core, "child_code": "LBIR1110"})
	unit := decodeData[command.AttachNodeResult](t, env)
	_, env = api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{"path": core, "child_code": "LBIR200G"})
	group := decodeData[command.AttachNodeResult](t, env)

	rec, env := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/move", map[string]any{
		"from_path": unit.Path,
		"to_path":   group.Path,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decodeData[command.MoveNodeResult](t, env)
	assert.Equal(t, group.Path.Append(unit.Path.Last()), moved.Path)

	rec, env = api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/move", map[string]any{
		"from_path": group.Path,
		"to_path":   moved.Path,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_failed", env.Error.Code)
	assert.Contains(t, rec.Body.String(), "LBIR200G you want to attach is a parent")
}

func TestServer_ErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	root, _ := api.createBachelor(t)
	api.saveNode(t, "LBIR200G", 2024, programtree.TypeSubGroup)

	tests := []struct {
		name   string
		method string
		target string
		body   any
		status int
		code   string
	}{
		{
			name:   "unauthorized child",
			method: http.MethodPost,
			target: "/api/v1/trees/LBIR100B/2024/attach",
			body:   map[string]any{"path": root, "child_code": "LBIR200G"},
			status: http.StatusUnprocessableEntity,
			code:   "validation_failed",
		},
		{
			name:   "unknown tree",
			method: http.MethodGet,
			target: "/api/v1/trees/LXXX100B/2024",
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "duplicate version",
			method: http.MethodPost,
			target: "/api/v1/versions",
			body: map[string]any{
				"offer_acronym": "BIR1BA", "year": 2024,
				"root_code": "LBIR900B", "root_title": "Other", "root_type": "BACHELOR",
			},
			status: http.StatusConflict,
			code:   "already_exists",
		},
		{
			name:   "detach root",
			method: http.MethodPost,
			target: "/api/v1/trees/LBIR100B/2024/detach",
			body:   map[string]any{"path": root},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "reverse adjacency without children",
			method: http.MethodGet,
			target: "/api/v1/reverse-adjacency?year=2024",
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "malformed id",
			method: http.MethodGet,
			target: "/api/v1/adjacency?root_id=abc",
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "malformed year",
			method: http.MethodGet,
			target: "/api/v1/trees/LBIR100B/next",
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "unknown route",
			method: http.MethodGet,
			target: "/api/v1/nothing",
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := api.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	t.Run("validation messages are listed", func(t *testing.T) {
		_, env := api.do(t, http.MethodPost, "/api/v1/trees/LBIR100B/2024/attach", map[string]any{"path": root, "child_code": "LBIR200G"})
		require.NotNil(t, env.Error)
		assert.Contains(t, env.Error.Messages, "The child SUB_GROUP is not authorized under BACHELOR")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trees/LBIR100B/2024/detach", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Versions(t *testing.T) {
	api := newTestAPI(t)
	api.createBachelor(t)

	rec, env := api.do(t, http.MethodPost, "/api/v1/versions", map[string]any{
		"offer_acronym": "BIR1BA",
		"year":          2024,
		"version_name":  "DDSHUMAIN",
		"title_fr":      "Version specifique",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	specific := decodeData[command.VersionResult](t, env)
	assert.Equal(t, "LBIR100B-DDSHUMAIN", specific.Tree.Code)

	rec, env = api.do(t, http.MethodGet, "/api/v1/versions/BIR1BA/2024?version=DDSHUMAIN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Version specifique", decodeData[treeversion.ProgramTreeVersion](t, env).TitleFR)

	rec, env = api.do(t, http.MethodPut, "/api/v1/versions/BIR1BA/2024", map[string]any{
		"title_fr": "Bachelier",
		"end_year": 2025,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeData[treeversion.ProgramTreeVersion](t, env)
	require.NotNil(t, updated.EndYear)
	assert.Equal(t, 2025, *updated.EndYear)

	rec, env = api.do(t, http.MethodPost, "/api/v1/versions/BIR1BA/2024/postpone", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	postponed := decodeData[treeversion.PostponeResult](t, env)
	assert.Equal(t, []treeversion.Identity{{OfferAcronym: "BIR1BA", Year: 2025}}, postponed.Created)

	rec, env = api.do(t, http.MethodGet, "/api/v1/versions/BIR1BA/2025/previous", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2024, decodeData[treeversion.ProgramTreeVersion](t, env).Year)

	rec, env = api.do(t, http.MethodGet, "/api/v1/versions?root_code=LBIR100B&year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeData[[]treeversion.ProgramTreeVersion](t, env), 1)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/versions?root_code=LBIR100B", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodDelete, "/api/v1/versions/BIR1BA/2024?version=DDSHUMAIN", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = api.do(t, http.MethodGet, "/api/v1/versions/BIR1BA/2024?version=DDSHUMAIN", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/versions/BIR1BA/2024/extend", map[string]any{"end_year": 2020})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HealthMetricsAndRequestID(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, rec.Header().Get("X-Request-Id"), env.RequestID)

	rec, _ = api.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))

	rec, _ = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "programhub_http_requests_total")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func TestServer_NotReady(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", handlers.NewPingCheck(downPinger{}))
	srv := NewServer(DefaultConfig(), Dependencies{
		HealthChecker: health,
		Logger:        logger.New(logger.Options{Output: io.Discard}),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Some checks failed: postgres")
}
