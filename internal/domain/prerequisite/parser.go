package prerequisite

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokCode tokenKind = iota // learning unit code
	tokOp                    // AND | OR | ET | OU
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

var keywords = map[string]Operator{
	"AND": AND,
	"ET":  AND,
	"OR":  OR,
	"OU":  OR,
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := rune(expr[i])
		if unicode.IsSpace(ch) {
			i++
			continue
		}
		if ch == '(' {
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
			continue
		}
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '-' || expr[j] == '_') {
				j++
			}
			word := strings.ToUpper(expr[i:j])
			if _, ok := keywords[word]; ok {
				tokens = append(tokens, token{tokOp, word, i})
			} else {
				tokens = append(tokens, token{tokCode, word, i})
			}
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, "", len(expr)})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

// expression = group ( MAIN_OP group )*
// group      = CODE | "(" CODE ( SECONDARY_OP CODE )* ")"
type parser struct {
	tokens []token
	pos    int
	year   int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, fmt.Errorf("expected %s but reached end of expression", what)
		}
		return t, fmt.Errorf("expected %s but got %q at position %d", what, t.val, t.pos)
	}
	return p.consume(), nil
}

// FromExpression parses a textual prerequisite such as
// "(LDROI1300 OR LAGRO2400) AND LDROI1400". French keywords ET/OU are accepted.
// Blank text yields the null prerequisite.
func FromExpression(text string, year int) (*Prerequisite, error) {
	if strings.TrimSpace(text) == "" {
		return Null(), nil
	}
	tokens, err := tokenize(text)
	if err != nil {
		return nil, invalidExpression(err)
	}
	p := &parser{tokens: tokens, year: year}
	result, err := p.parseExpression()
	if err != nil {
		return nil, invalidExpression(err)
	}
	return result, nil
}

func invalidExpression(err error) error {
	return shared.WrapError("prerequisite", "Parse", shared.ErrInvalidInput, "invalid prerequisite expression", err)
}

func (p *parser) parseExpression() (*Prerequisite, error) {
	var groups []*ItemGroup
	var groupOps []Operator
	var main Operator

	first, op, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	groups = append(groups, first)
	groupOps = append(groupOps, op)

	for p.peek().kind == tokOp {
		opTok := p.consume()
		current := keywords[opTok.val]
		if main == "" {
			main = current
		} else if current != main {
			return nil, fmt.Errorf("mixed operators %s and %s without parentheses at position %d", main, current, opTok.pos)
		}
		group, op, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
		groupOps = append(groupOps, op)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}

	if main == "" {
		// A single group: its own operator, if any, is the secondary one.
		main = AND
		if groupOps[0] != "" {
			main = groupOps[0].Opposite()
		}
	}
	secondary := main.Opposite()

	result := New(main)
	for i, g := range groups {
		if groupOps[i] != "" && groupOps[i] != secondary {
			return nil, fmt.Errorf("group %d uses %s, expected %s inside parentheses", i+1, groupOps[i], secondary)
		}
		g.Operator = secondary
		result.AddGroup(g)
	}
	return result, nil
}

// parseGroup returns the group and the operator used inside it ("" when the
// group holds a single item).
func (p *parser) parseGroup() (*ItemGroup, Operator, error) {
	if p.peek().kind == tokCode {
		code := p.consume()
		return &ItemGroup{Operator: AND, Items: []Item{{Code: code.val, Year: p.year}}}, "", nil
	}
	if _, err := p.expect(tokLParen, "learning unit code or '('"); err != nil {
		return nil, "", err
	}
	code, err := p.expect(tokCode, "learning unit code")
	if err != nil {
		return nil, "", err
	}
	group := &ItemGroup{Operator: AND, Items: []Item{{Code: code.val, Year: p.year}}}
	var op Operator
	for p.peek().kind == tokOp {
		opTok := p.consume()
		current := keywords[opTok.val]
		if op == "" {
			op = current
		} else if current != op {
			return nil, "", fmt.Errorf("mixed operators inside parentheses at position %d", opTok.pos)
		}
		code, err := p.expect(tokCode, "learning unit code")
		if err != nil {
			return nil, "", err
		}
		group.AddItem(code.val, p.year)
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, "", err
	}
	return group, op, nil
}
