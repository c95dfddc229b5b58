package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
)

type relationKey struct {
	parent programtree.NodeType
	child  programtree.NodeType
}

type bounds struct {
	min int
	max int
}

// Catalogue is an immutable, validated rule set. It implements
// programtree.RelationshipRules and programtree.ValidationRuleLookup.
type Catalogue struct {
	version   string
	relations map[relationKey]bounds
	mandatory map[programtree.NodeType][]programtree.NodeType
	fields    map[string]string
}

// Parse decodes and validates a YAML rule file.
func Parse(data []byte) (*Catalogue, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return NewCatalogue(f)
}

// NewCatalogue validates f and indexes it. Every problem is reported at once.
func NewCatalogue(f File) (*Catalogue, error) {
	c := &Catalogue{
		version:   f.Version,
		relations: make(map[relationKey]bounds, len(f.Relationships)),
		mandatory: make(map[programtree.NodeType][]programtree.NodeType),
		fields:    make(map[string]string, len(f.ValidationRules)),
	}

	var errs []string
	if f.Version == "" {
		errs = append(errs, "version is required")
	}

	for i, r := range f.Relationships {
		loc := fmt.Sprintf("relationships[%d]", i)
		parent, err := programtree.ParseNodeType(r.Parent)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s.parent: %v", loc, err))
			continue
		}
		child, err := programtree.ParseNodeType(r.Child)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s.child: %v", loc, err))
			continue
		}
		if parent == programtree.TypeLearningUnit {
			errs = append(errs, fmt.Sprintf("%s: a learning unit cannot have children", loc))
			continue
		}

		key := relationKey{parent: parent, child: child}
		if _, dup := c.relations[key]; dup {
			errs = append(errs, fmt.Sprintf("%s: duplicate relationship %s -> %s", loc, parent, child))
			continue
		}

		b := bounds{min: r.Min, max: programtree.Unbounded}
		if r.Max != nil {
			b.max = *r.Max
		}
		switch {
		case b.min < 0:
			errs = append(errs, fmt.Sprintf("%s: min must not be negative", loc))
			continue
		case r.Max != nil && b.max < b.min:
			errs = append(errs, fmt.Sprintf("%s: max %d is lower than min %d", loc, b.max, b.min))
			continue
		}

		c.relations[key] = b
		if b.min > 0 {
			c.mandatory[parent] = append(c.mandatory[parent], child)
		}
	}

	for ref, value := range f.ValidationRules {
		if !strings.Contains(ref, ".") {
			errs = append(errs, fmt.Sprintf("validation_rules: field reference %q must be <type>.<field>", ref))
			continue
		}
		c.fields[ref] = value
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("rules validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return c, nil
}

// Version returns the version declared by the rule file.
func (c *Catalogue) Version() string { return c.version }

// IsAuthorized implements programtree.RelationshipRules.
func (c *Catalogue) IsAuthorized(parent, child programtree.NodeType) bool {
	_, ok := c.relations[relationKey{parent: parent, child: child}]
	return ok
}

// MaxChildren implements programtree.RelationshipRules.
func (c *Catalogue) MaxChildren(parent, child programtree.NodeType) int {
	b, ok := c.relations[relationKey{parent: parent, child: child}]
	if !ok {
		return 0
	}
	return b.max
}

// MinChildren implements programtree.RelationshipRules.
func (c *Catalogue) MinChildren(parent, child programtree.NodeType) int {
	return c.relations[relationKey{parent: parent, child: child}].min
}

// MandatoryChildren implements programtree.RelationshipRules.
func (c *Catalogue) MandatoryChildren(parent programtree.NodeType) []programtree.NodeType {
	return append([]programtree.NodeType(nil), c.mandatory[parent]...)
}

// Get implements programtree.ValidationRuleLookup.
func (c *Catalogue) Get(fieldReference string) (string, bool) {
	v, ok := c.fields[fieldReference]
	return v, ok
}
