// Package prerequisite models the boolean expressions (an AND/OR of groups of
// learning units) that must be satisfied before enrolling in a learning unit.
package prerequisite

import (
	"fmt"
	"slices"
	"strings"
)

// Operator joins prerequisite items or groups.
type Operator string

const (
	AND Operator = "AND"
	OR  Operator = "OR"
)

// IsValid reports whether o is AND or OR.
func (o Operator) IsValid() bool {
	return o == AND || o == OR
}

// Opposite returns the other operator.
func (o Operator) Opposite() Operator {
	mustBeValid(o)
	if o == AND {
		return OR
	}
	return AND
}

// Keyword returns the operator word for a language ("fr" or "en").
func (o Operator) Keyword(lang string) string {
	if lang == LangFR {
		if o == AND {
			return "ET"
		}
		return "OU"
	}
	return string(o)
}

// Rendering languages.
const (
	LangEN = "en"
	LangFR = "fr"
)

// mustBeValid panics on operators outside {AND, OR}. Operators are composed
// internally and never taken verbatim from user input.
func mustBeValid(o Operator) {
	if !o.IsValid() {
		panic(fmt.Sprintf("prerequisite: invalid operator %q", string(o)))
	}
}

// Item identifies a learning unit required by a prerequisite.
type Item struct {
	Code string `json:"code"`
	Year int    `json:"year"`
}

// ItemGroup is a sequence of items joined by one secondary operator.
type ItemGroup struct {
	Operator Operator `json:"operator"`
	Items    []Item   `json:"items"`
}

// NewItemGroup creates an empty group. It panics on an invalid operator.
func NewItemGroup(op Operator) *ItemGroup {
	mustBeValid(op)
	return &ItemGroup{Operator: op}
}

// AddItem appends a learning unit to the group.
func (g *ItemGroup) AddItem(code string, year int) {
	g.Items = append(g.Items, Item{Code: code, Year: year})
}

func (g *ItemGroup) render(lang string, parenthesize bool) string {
	codes := make([]string, len(g.Items))
	for i, item := range g.Items {
		codes[i] = item.Code
	}
	text := strings.Join(codes, " "+g.Operator.Keyword(lang)+" ")
	if parenthesize && len(g.Items) > 1 {
		return "(" + text + ")"
	}
	return text
}

// Prerequisite is an ordered sequence of item groups joined by the main operator.
type Prerequisite struct {
	MainOperator Operator     `json:"main_operator"`
	Groups       []*ItemGroup `json:"groups"`
}

// New creates an empty prerequisite. It panics on an invalid operator.
func New(main Operator) *Prerequisite {
	mustBeValid(main)
	return &Prerequisite{MainOperator: main}
}

// Null returns the prerequisite with no groups. It renders as "".
func Null() *Prerequisite {
	return &Prerequisite{MainOperator: AND}
}

// IsNull reports whether there is nothing to satisfy.
func (p *Prerequisite) IsNull() bool {
	if p == nil {
		return true
	}
	for _, g := range p.Groups {
		if len(g.Items) > 0 {
			return false
		}
	}
	return true
}

// SecondaryOperator is the operator used inside groups built from this prerequisite.
func (p *Prerequisite) SecondaryOperator() Operator {
	return p.MainOperator.Opposite()
}

// AddGroup appends a group. It panics when the group operator is invalid.
func (p *Prerequisite) AddGroup(g *ItemGroup) {
	mustBeValid(g.Operator)
	p.Groups = append(p.Groups, g)
}

// String renders the expression with English keywords.
func (p *Prerequisite) String() string {
	return p.Render(LangEN)
}

// Render renders the expression. A group with several items is parenthesized
// when its operator differs from the main one, so the text parses back into
// the same structure. A group sharing the main operator is written flat.
func (p *Prerequisite) Render(lang string) string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.Groups))
	for _, g := range p.Groups {
		if len(g.Items) == 0 {
			continue
		}
		parts = append(parts, g.render(lang, g.Operator != p.MainOperator))
	}
	return strings.Join(parts, " "+p.MainOperator.Keyword(lang)+" ")
}

// Codes returns the distinct learning unit codes in order of appearance.
func (p *Prerequisite) Codes() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool)
	var codes []string
	for _, g := range p.Groups {
		for _, item := range g.Items {
			if !seen[item.Code] {
				seen[item.Code] = true
				codes = append(codes, item.Code)
			}
		}
	}
	return codes
}

// Contains reports whether code appears in any group.
func (p *Prerequisite) Contains(code string) bool {
	for _, c := range p.Codes() {
		if c == code {
			return true
		}
	}
	return false
}

// Equal reports whether both prerequisites require the same thing. They are
// compared on their canonical structure: empty groups dropped, a group that
// shares the main operator split into single items, and a lone group lifted
// to the top level. "A OR B" as one group under AND equals "A OR B" parsed as
// two groups under OR, while "(A OR B) AND C" differs from "A OR (B AND C)".
func (p *Prerequisite) Equal(other *Prerequisite) bool {
	mainA, groupsA := p.canonical()
	mainB, groupsB := other.canonical()
	if len(groupsA) != len(groupsB) {
		return false
	}
	if len(groupsA) > 1 && mainA != mainB {
		return false
	}
	for i := range groupsA {
		if !slices.Equal(groupsA[i], groupsB[i]) {
			return false
		}
	}
	return true
}

// canonical returns the main operator and the item lists of the groups. The
// operator of each multi-item group is always the opposite of the main one.
func (p *Prerequisite) canonical() (Operator, [][]Item) {
	if p == nil {
		return AND, nil
	}
	main := p.MainOperator
	var groups []*ItemGroup
	for _, g := range p.Groups {
		if len(g.Items) > 0 {
			groups = append(groups, g)
		}
	}
	if len(groups) == 1 && len(groups[0].Items) > 1 {
		main = groups[0].Operator
	}

	var out [][]Item
	for _, g := range groups {
		if len(g.Items) == 1 || g.Operator == main {
			for _, item := range g.Items {
				out = append(out, []Item{item})
			}
			continue
		}
		out = append(out, g.Items)
	}
	return main, out
}
