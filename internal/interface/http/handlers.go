package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/osis-hub/program-hub/internal/application/command"
	"github.com/osis-hub/program-hub/internal/application/query"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// TREE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/trees/{code}/{year}
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tree, err := s.deps.Queries.GetTree.Handle(r.Context(), query.GetTreeQuery{Tree: id})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tree)
}

type attachRequest struct {
	Path      string `json:"path"`
	ChildCode string `json:"child_code"`
	ChildYear int    `json:"child_year"`
	programtree.LinkAttributes
}

// POST /api/v1/trees/{code}/{year}/attach
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := attachRequest{LinkAttributes: programtree.DefaultLinkAttributes()}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ChildYear == 0 {
		req.ChildYear = id.Year
	}
	result, err := s.deps.Commands.AttachNode.Handle(r.Context(), command.AttachNodeCommand{
		Tree:       id,
		ParentPath: req.Path,
		ChildCode:  req.ChildCode,
		ChildYear:  req.ChildYear,
		Attributes: req.LinkAttributes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

type pathRequest struct {
	Path string `json:"path"`
}

// POST /api/v1/trees/{code}/{year}/detach
func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Commands.DetachNode.Handle(r.Context(), command.DetachNodeCommand{Tree: id, Path: req.Path})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type moveRequest struct {
	FromPath string `json:"from_path"`
	ToPath   string `json:"to_path"`
}

// POST /api/v1/trees/{code}/{year}/move
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Commands.MoveNode.Handle(r.Context(), command.MoveNodeCommand{
		Tree:         id,
		FromPath:     req.FromPath,
		ToParentPath: req.ToPath,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type updateLinkRequest struct {
	Path string `json:"path"`
	programtree.LinkAttributes
}

// PUT /api/v1/trees/{code}/{year}/links
func (s *Server) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	attrs, err := s.deps.Commands.UpdateLink.Handle(r.Context(), command.UpdateLinkCommand{
		Tree:       id,
		Path:       req.Path,
		Attributes: req.LinkAttributes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, attrs)
}

// GET /api/v1/trees/{code}/{year}/prerequisites/{path}
func (s *Server) handleGetPrerequisite(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, err := wildcardPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Queries.GetPrerequisite.Handle(r.Context(), query.GetPrerequisiteQuery{Tree: id, Path: path})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type prerequisiteRequest struct {
	Expression string `json:"expression"`
}

// PUT /api/v1/trees/{code}/{year}/prerequisites/{path}
func (s *Server) handleSetPrerequisite(w http.ResponseWriter, r *http.Request) {
	id, err := treeIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	path, err := wildcardPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req prerequisiteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Commands.SetPrerequisite.Handle(r.Context(), command.SetPrerequisiteCommand{
		Tree:       id,
		Path:       path,
		Expression: req.Expression,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// GET /api/v1/trees/search?node_id=..&year=..
func (s *Server) handleSearchTrees(w http.ResponseWriter, r *http.Request) {
	ids, err := queryIDs(r, "node_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	year, err := queryOptionalInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trees, err := s.deps.Queries.SearchTrees.Handle(r.Context(), query.SearchTreesFromChildrenQuery{NodeIDs: ids, Year: year})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, trees)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADJACENCY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/adjacency?root_id=..
func (s *Server) handleAdjacency(w http.ResponseWriter, r *http.Request) {
	ids, err := queryIDs(r, "root_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.deps.Queries.Adjacency.AdjacencyList(r.Context(), ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

// GET /api/v1/reverse-adjacency?child_id=..&year=..&link_type=..
func (s *Server) handleReverseAdjacency(w http.ResponseWriter, r *http.Request) {
	ids, err := queryIDs(r, "child_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	year, err := queryOptionalInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := programtree.ReverseQuery{ChildIDs: ids, Year: year}
	if raw := r.URL.Query().Get("link_type"); raw != "" {
		lt, err := programtree.ParseLinkType(strings.ToUpper(raw))
		if err != nil {
			s.writeError(w, r, invalidRequest(err.Error()))
			return
		}
		q.LinkType = &lt
	}
	records, err := s.deps.Queries.Adjacency.ReverseAdjacencyList(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

// GET /api/v1/roots?child_id=..&year=..&root_type=..
func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	ids, err := queryIDs(r, "child_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	year, err := queryOptionalInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := programtree.RootQuery{ChildIDs: ids, Year: year}
	for _, raw := range queryList(r, "root_type") {
		t, err := programtree.ParseNodeType(strings.ToUpper(raw))
		if err != nil {
			s.writeError(w, r, invalidRequest(err.Error()))
			return
		}
		q.RootTypes = append(q.RootTypes, t)
	}
	roots, err := s.deps.Queries.Adjacency.RootList(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, roots)
}

// ══════════════════════════════════════════════════════════════════════════════
// VERSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createVersionRequest struct {
	OfferAcronym string `json:"offer_acronym"`
	Year         int    `json:"year"`
	IsTransition bool   `json:"is_transition"`

	// VersionName selects a specific version. Empty or STANDARD creates the
	// standard version and its root node.
	VersionName string `json:"version_name"`

	RootCode  string `json:"root_code"`
	RootTitle string `json:"root_title"`
	RootType  string `json:"root_type"`

	TitleFR string `json:"title_fr"`
	TitleEN string `json:"title_en"`
	EndYear *int   `json:"end_year"`
}

// POST /api/v1/versions
func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name, err := shared.NewVersionName(req.VersionName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var result *command.VersionResult
	if name.IsStandard() {
		result, err = s.deps.Commands.CreateStandardVersion.Handle(r.Context(), command.CreateStandardVersionCommand{
			OfferAcronym: req.OfferAcronym,
			Year:         req.Year,
			IsTransition: req.IsTransition,
			RootCode:     req.RootCode,
			RootTitle:    req.RootTitle,
			RootType:     programtree.NodeType(strings.ToUpper(req.RootType)),
			TitleFR:      req.TitleFR,
			TitleEN:      req.TitleEN,
			EndYear:      req.EndYear,
		})
	} else {
		result, err = s.deps.Commands.CreateSpecificVersion.Handle(r.Context(), command.CreateSpecificVersionCommand{
			OfferAcronym: req.OfferAcronym,
			Year:         req.Year,
			IsTransition: req.IsTransition,
			VersionName:  req.VersionName,
			TitleFR:      req.TitleFR,
			TitleEN:      req.TitleEN,
			EndYear:      req.EndYear,
		})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

// GET /api/v1/versions?root_code=..&year=..
func (s *Server) handleSearchVersions(w http.ResponseWriter, r *http.Request) {
	rootCode := r.URL.Query().Get("root_code")
	year, err := queryOptionalInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rootCode == "" || year == nil {
		s.writeError(w, r, shared.WrapError("http", "SearchVersions", shared.ErrMissingQueryFilter, "root_code and year are required", nil))
		return
	}
	versions, err := s.deps.Queries.Versions.SearchAllFromRoot(r.Context(), rootCode, *year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// GET /api/v1/versions/{acronym}/{year}
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Queries.Versions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// GET /api/v1/versions/{acronym}/{year}/previous
func (s *Server) handleGetLastInPast(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Queries.Versions.GetLastInPast(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

type updateVersionRequest struct {
	TitleFR string `json:"title_fr"`
	TitleEN string `json:"title_en"`
	EndYear *int   `json:"end_year"`
}

// PUT /api/v1/versions/{acronym}/{year}
func (s *Server) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.Commands.UpdateVersion.Handle(r.Context(), command.UpdateVersionCommand{
		Version: id,
		TitleFR: req.TitleFR,
		TitleEN: req.TitleEN,
		EndYear: req.EndYear,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// DELETE /api/v1/versions/{acronym}/{year}
func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Commands.DeleteVersion.Handle(r.Context(), command.DeleteVersionCommand{Version: id}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": id})
}

type postponeRequest struct {
	UntilYear int `json:"until_year"`
}

// POST /api/v1/versions/{acronym}/{year}/postpone
func (s *Server) handlePostpone(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req postponeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Commands.PostponeVersion.Handle(r.Context(), command.PostponeVersionCommand{
		Version:   id,
		UntilYear: req.UntilYear,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type extendRequest struct {
	EndYear int `json:"end_year"`
}

// POST /api/v1/versions/{acronym}/{year}/extend
func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, err := versionIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req extendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Commands.ExtendEndYear.Handle(r.Context(), command.ExtendEndYearCommand{
		Version:    id,
		NewEndYear: req.EndYear,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps a use case error to its status code. Validator messages
// are returned in full so a client can show every problem at once.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	apiErr := &APIError{Code: code, Message: err.Error()}
	if be, ok := shared.AsBusinessExceptions(err); ok {
		apiErr.Messages = be.Messages
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err))
		apiErr.Message = "internal server error"
	}
	writeEnvelope(w, status, JSONResponse{Error: apiErr, RequestID: requestID(r)})
}

func statusOf(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case shared.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func invalidRequest(message string) error {
	return shared.NewDomainError("http", "Decode", shared.ErrInvalidInput, message)
}

// decodeJSON decodes the request body into dst. An empty body leaves dst
// unchanged.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return invalidRequest(fmt.Sprintf("malformed JSON body: %v", err))
	}
	return nil
}

func pathYear(r *http.Request) (int, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return 0, invalidRequest(fmt.Sprintf("year %q is not a number", chi.URLParam(r, "year")))
	}
	return year, nil
}

func treeIdentity(r *http.Request) (programtree.TreeIdentity, error) {
	year, err := pathYear(r)
	if err != nil {
		return programtree.TreeIdentity{}, err
	}
	return programtree.TreeIdentity{Code: strings.ToUpper(chi.URLParam(r, "code")), Year: year}, nil
}

// versionIdentity reads the acronym and year from the path and the version
// name and transition flag from ?version= and ?transition=.
func versionIdentity(r *http.Request) (treeversion.Identity, error) {
	year, err := pathYear(r)
	if err != nil {
		return treeversion.Identity{}, err
	}
	name, err := shared.NewVersionName(r.URL.Query().Get("version"))
	if err != nil {
		return treeversion.Identity{}, err
	}
	id := treeversion.Identity{
		OfferAcronym: strings.ToUpper(chi.URLParam(r, "acronym")),
		Year:         year,
		VersionName:  name,
	}
	if raw := r.URL.Query().Get("transition"); raw != "" {
		id.IsTransition, err = strconv.ParseBool(raw)
		if err != nil {
			return treeversion.Identity{}, invalidRequest(fmt.Sprintf("transition %q is not a boolean", raw))
		}
	}
	return id, nil
}

func wildcardPath(r *http.Request) (string, error) {
	path, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return "", invalidRequest(fmt.Sprintf("malformed path: %v", err))
	}
	return path, nil
}

// queryList returns the values of a repeatable, comma separated parameter.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func queryIDs(r *http.Request, key string) ([]int64, error) {
	raw := queryList(r, key)
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, shared.NewDomainError("http", "Query", shared.ErrInvalidID, fmt.Sprintf("%s %q is not a valid id", key, v))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func queryOptionalInt(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalidRequest(fmt.Sprintf("%s %q is not a number", key, raw))
	}
	return &v, nil
}
