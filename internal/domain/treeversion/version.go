// Package treeversion associates program trees with named, year-scoped
// versions and carries the postponement rules across academic years.
package treeversion

import (
	"fmt"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// DefaultMaxPostponementYears is how far past the current academic year a
// version may be postponed when it has no end year.
const DefaultMaxPostponementYears = 6

// Identity identifies a program tree version.
type Identity struct {
	OfferAcronym string             `json:"offer_acronym"`
	Year         int                `json:"year"`
	VersionName  shared.VersionName `json:"version_name"`
	IsTransition bool               `json:"is_transition"`
}

// IsStandard reports whether this is the canonical default version.
func (id Identity) IsStandard() bool {
	return id.VersionName.IsStandard() && !id.IsTransition
}

// InYear returns the same identity in another academic year.
func (id Identity) InYear(year int) Identity {
	id.Year = year
	return id
}

// String returns "ACRONYM[VERSION][-TRANSITION]/YEAR".
func (id Identity) String() string {
	s := id.OfferAcronym
	if !id.VersionName.IsStandard() {
		s += "[" + string(id.VersionName) + "]"
	}
	if id.IsTransition {
		s += "[TRANSITION]"
	}
	return fmt.Sprintf("%s/%d", s, id.Year)
}

// ProgramTreeVersion binds a version identity to the tree of its root group.
type ProgramTreeVersion struct {
	Identity
	Tree    programtree.TreeIdentity `json:"tree"`
	TitleFR string                   `json:"title_fr"`
	TitleEN string                   `json:"title_en"`
	EndYear *int                     `json:"end_year,omitempty"`
}

// New validates and creates a version.
func New(id Identity, tree programtree.TreeIdentity, titleFR, titleEN string, endYear *int) (*ProgramTreeVersion, error) {
	if id.OfferAcronym == "" {
		return nil, shared.NewDomainError("treeversion", "New", shared.ErrEmptyValue, "offer acronym cannot be empty")
	}
	if _, err := shared.NewVersionName(string(id.VersionName)); err != nil {
		return nil, err
	}
	if endYear != nil && *endYear < id.Year {
		return nil, shared.ErrEndYearBeforeYear
	}
	return &ProgramTreeVersion{
		Identity: id,
		Tree:     tree,
		TitleFR:  titleFR,
		TitleEN:  titleEN,
		EndYear:  endYear,
	}, nil
}

// UpdateData holds the editable fields of a version.
type UpdateData struct {
	TitleFR string
	TitleEN string
	EndYear *int
}

// Update replaces the editable fields.
func (v *ProgramTreeVersion) Update(data UpdateData) error {
	if data.EndYear != nil && *data.EndYear < v.Year {
		return shared.ErrEndYearBeforeYear
	}
	v.TitleFR = data.TitleFR
	v.TitleEN = data.TitleEN
	v.EndYear = data.EndYear
	return nil
}

// ExistsIn reports whether the version is still offered in year.
func (v *ProgramTreeVersion) ExistsIn(year int) bool {
	return v.EndYear == nil || *v.EndYear >= year
}

// CopyToYear returns the version for another year pointing at the tree with
// the same root code in that year.
func (v *ProgramTreeVersion) CopyToYear(year int) *ProgramTreeVersion {
	c := *v
	c.Identity = v.Identity.InYear(year)
	c.Tree = programtree.TreeIdentity{Code: v.Tree.Code, Year: year}
	return &c
}

// PostponementLimit returns the last year a postponement started in fromYear
// may create: the end year when set, capped by currentYear+maxYears.
func (v *ProgramTreeVersion) PostponementLimit(currentYear, maxYears int) int {
	limit := currentYear + maxYears
	if v.EndYear != nil && *v.EndYear < limit {
		limit = *v.EndYear
	}
	return limit
}
