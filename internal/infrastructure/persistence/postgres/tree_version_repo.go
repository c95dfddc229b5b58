package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
)

// ══════════════════════════════════════════════════════════════════════════════
// TREE VERSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TreeVersionRepository implements treeversion.Repository.
type TreeVersionRepository struct {
	conn *Connection
}

// NewTreeVersionRepository creates a new TreeVersionRepository.
func NewTreeVersionRepository(conn *Connection) *TreeVersionRepository {
	return &TreeVersionRepository{conn: conn}
}

const versionColumns = `
	offer_acronym, year, version_name, is_transition,
	root_code, root_year, title_fr, title_en, end_year`

// Get implements treeversion.Repository.
func (r *TreeVersionRepository) Get(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM tree_versions
		WHERE offer_acronym = $1 AND year = $2 AND version_name = $3 AND is_transition = $4
	`, id.OfferAcronym, id.Year, string(id.VersionName), id.IsTransition)
	return scanVersion(row)
}

// Create implements treeversion.Repository.
func (r *TreeVersionRepository) Create(ctx context.Context, v *treeversion.ProgramTreeVersion) (treeversion.Identity, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO tree_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		v.OfferAcronym, v.Year, string(v.VersionName), v.IsTransition,
		v.Tree.Code, v.Tree.Year, v.TitleFR, v.TitleEN, v.EndYear,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return treeversion.Identity{}, shared.ErrTreeVersionAlreadyExists
		}
		return treeversion.Identity{}, fmt.Errorf("failed to create tree version: %w", err)
	}
	return v.Identity, nil
}

// Update implements treeversion.Repository.
func (r *TreeVersionRepository) Update(ctx context.Context, v *treeversion.ProgramTreeVersion) (treeversion.Identity, error) {
	result, err := r.conn.Exec(ctx, `
		UPDATE tree_versions SET
			root_code = $1, root_year = $2, title_fr = $3, title_en = $4, end_year = $5, updated_at = NOW()
		WHERE offer_acronym = $6 AND year = $7 AND version_name = $8 AND is_transition = $9
	`,
		v.Tree.Code, v.Tree.Year, v.TitleFR, v.TitleEN, v.EndYear,
		v.OfferAcronym, v.Year, string(v.VersionName), v.IsTransition,
	)
	if err != nil {
		return treeversion.Identity{}, fmt.Errorf("failed to update tree version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return treeversion.Identity{}, shared.ErrTreeVersionNotFound
	}
	return v.Identity, nil
}

// Delete implements treeversion.Repository.
func (r *TreeVersionRepository) Delete(ctx context.Context, id treeversion.Identity) error {
	result, err := r.conn.Exec(ctx, `
		DELETE FROM tree_versions
		WHERE offer_acronym = $1 AND year = $2 AND version_name = $3 AND is_transition = $4
	`, id.OfferAcronym, id.Year, string(id.VersionName), id.IsTransition)
	if err != nil {
		return fmt.Errorf("failed to delete tree version: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrTreeVersionNotFound
	}
	return nil
}

// GetLastInPast implements treeversion.Repository.
func (r *TreeVersionRepository) GetLastInPast(ctx context.Context, id treeversion.Identity) (*treeversion.ProgramTreeVersion, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM tree_versions
		WHERE offer_acronym = $1 AND version_name = $2 AND is_transition = $3 AND year < $4
		ORDER BY year DESC
		LIMIT 1
	`, id.OfferAcronym, string(id.VersionName), id.IsTransition, id.Year)
	return scanVersion(row)
}

// SearchAllVersionsFromRoot implements treeversion.Repository.
func (r *TreeVersionRepository) SearchAllVersionsFromRoot(ctx context.Context, rootCode string, year int) ([]*treeversion.ProgramTreeVersion, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+versionColumns+`
		FROM tree_versions
		WHERE root_code = $1 AND root_year = $2
		ORDER BY offer_acronym, version_name, is_transition
	`, rootCode, year)
	if err != nil {
		return nil, fmt.Errorf("failed to search tree versions: %w", err)
	}
	defer rows.Close()

	var out []*treeversion.ProgramTreeVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(row pgx.Row) (*treeversion.ProgramTreeVersion, error) {
	var (
		v           treeversion.ProgramTreeVersion
		versionName string
		tree        programtree.TreeIdentity
	)
	err := row.Scan(
		&v.OfferAcronym, &v.Year, &versionName, &v.IsTransition,
		&tree.Code, &tree.Year, &v.TitleFR, &v.TitleEN, &v.EndYear,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTreeVersionNotFound
		}
		return nil, fmt.Errorf("failed to scan tree version: %w", err)
	}
	v.VersionName = shared.VersionName(versionName)
	v.Tree = tree
	return &v, nil
}
