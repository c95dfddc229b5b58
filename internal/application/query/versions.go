package query

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// VersionHandler serves the tree version lookups.
type VersionHandler struct {
	versions treeversion.Repository
	log      *logger.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(versions treeversion.Repository, log *logger.Logger) *VersionHandler {
	return &VersionHandler{versions: versions, log: orDefault(log)}
}

// Get returns one version.
func (h *VersionHandler) Get(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	start := time.Now()
	v, err := h.versions.Get(ctx, id)
	observe(h.log, "get_version", start, err)
	if err != nil {
		return nil, fmt.Errorf("get_version: %w", err)
	}
	return v, nil
}

// GetLastInPast returns the latest version of the same offer, name and
// transition flag before id.Year.
func (h *VersionHandler) GetLastInPast(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	start := time.Now()
	v, err := h.versions.GetLastInPast(ctx, id)
	observe(h.log, "get_last_version_in_past", start, err)
	if err != nil {
		return nil, fmt.Errorf("get_last_version_in_past: %w", err)
	}
	return v, nil
}

// SearchAllFromRoot returns every version built on the tree rooted at
// (rootCode, year).
func (h *VersionHandler) SearchAllFromRoot(ctx context.Context, rootCode string, year int) ([]*treeversion.ProgramTreeVersion, error) {
	start := time.Now()
	out, err := h.searchAllFromRoot(ctx, rootCode, year)
	observe(h.log, "search_versions_from_root", start, err)
	return out, err
}

func (h *VersionHandler) searchAllFromRoot(ctx context.Context, rootCode string, year int) ([]*treeversion.ProgramTreeVersion, error) {
	if rootCode == "" {
		return nil, fmt.Errorf("search_versions_from_root: %w", invalid("SearchVersionsFromRoot", "root code is required"))
	}
	if _, err := shared.NewAcademicYear(year); err != nil {
		return nil, fmt.Errorf("search_versions_from_root: %w", invalid("SearchVersionsFromRoot", err.Error()))
	}
	out, err := h.versions.SearchAllVersionsFromRoot(ctx, rootCode, year)
	if err != nil {
		return nil, fmt.Errorf("search_versions_from_root: %w", err)
	}
	if out == nil {
		out = []*treeversion.ProgramTreeVersion{}
	}
	return out, nil
}
