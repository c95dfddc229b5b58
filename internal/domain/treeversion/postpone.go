package treeversion

import (
	"context"
	"errors"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// YearCopier copies the version identified by from into from.Year+1 and
// returns the identity it created.
type YearCopier func(ctx context.Context, from Identity) (Identity, error)

// PostponeResult reports what a postponement run did.
type PostponeResult struct {
	Created      []Identity `json:"created"`
	SkippedYears []int      `json:"skipped_years,omitempty"` // target year already had the version
	StoppedAt    int        `json:"stopped_at,omitempty"`    // first target year blocked by an end date
}

// Postpone copies source forward one year at a time for every year in
// [source.Year, untilYear). A year blocked by an end date ends the run
// normally; the versions created so far are returned. A target year that
// already holds the version is skipped and the run continues from it.
func Postpone(ctx context.Context, source Identity, untilYear int, step YearCopier) (*PostponeResult, error) {
	result := &PostponeResult{}
	for year := source.Year; year < untilYear; year++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		created, err := step(ctx, source.InYear(year))
		switch {
		case err == nil:
			result.Created = append(result.Created, created)
		case errors.Is(err, shared.ErrCannotCopyDueToEndDate):
			result.StoppedAt = year + 1
			return result, nil
		case errors.Is(err, shared.ErrTreeVersionAlreadyExists):
			result.SkippedYears = append(result.SkippedYears, year+1)
		default:
			return result, err
		}
	}
	return result, nil
}
