package shared

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Academic Year Value Object
// ═══════════════════════════════════════════════════════════════════════════

// AcademicYear is the starting calendar year of an academic year
// (2024 means 2024-2025).
type AcademicYear int

const (
	MinAcademicYear AcademicYear = 1900
	MaxAcademicYear AcademicYear = 2999
)

// IsValid checks if the year is within the supported range.
func (y AcademicYear) IsValid() bool {
	return y >= MinAcademicYear && y <= MaxAcademicYear
}

// Int returns the underlying int value.
func (y AcademicYear) Int() int {
	return int(y)
}

// Next returns the following academic year.
func (y AcademicYear) Next() AcademicYear {
	return y + 1
}

// String renders the year as "2024-25".
func (y AcademicYear) String() string {
	return fmt.Sprintf("%d-%02d", int(y), (int(y)+1)%100)
}

// NewAcademicYear creates a new AcademicYear with validation.
func NewAcademicYear(year int) (AcademicYear, error) {
	y := AcademicYear(year)
	if !y.IsValid() {
		return 0, NewDomainError("shared", "NewAcademicYear", ErrValueOutOfRange, fmt.Sprintf("academic year %d out of range", year))
	}
	return y, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Code Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Code is the partial acronym of an offering or learning unit (e.g. LBIR1110, BIR1BA).
type Code string

var codeRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{0,14}$`)

// IsValid checks the code format.
func (c Code) IsValid() bool {
	return codeRegex.MatchString(string(c))
}

// String returns the string representation.
func (c Code) String() string {
	return string(c)
}

// NewCode creates a normalized (upper-case, trimmed) Code.
func NewCode(value string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(value)))
	if c == "" {
		return "", NewDomainError("shared", "NewCode", ErrEmptyValue, "code cannot be empty")
	}
	if !c.IsValid() {
		return "", NewDomainError("shared", "NewCode", ErrInvalidFormat, fmt.Sprintf("invalid code %q", value))
	}
	return c, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Version Name Value Object
// ═══════════════════════════════════════════════════════════════════════════

// VersionName names a program tree version. The empty name is the standard version.
type VersionName string

// StandardVersionName is the display label of the empty version name.
const StandardVersionName = "STANDARD"

var versionNameRegex = regexp.MustCompile(`^[A-Z]{0,15}$`)

// IsStandard reports whether this is the standard version.
func (v VersionName) IsStandard() bool {
	return v == ""
}

// String returns the display label.
func (v VersionName) String() string {
	if v.IsStandard() {
		return StandardVersionName
	}
	return string(v)
}

// NewVersionName validates a version name. "STANDARD" is normalized to the empty name.
func NewVersionName(value string) (VersionName, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == StandardVersionName {
		return "", nil
	}
	if !versionNameRegex.MatchString(v) {
		return "", ErrInvalidVersionName
	}
	return VersionName(v), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Transaction boundary
// ═══════════════════════════════════════════════════════════════════════════

// Transactor runs fn inside one atomic unit of work. Repositories called with
// the ctx passed to fn take part in the same transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
