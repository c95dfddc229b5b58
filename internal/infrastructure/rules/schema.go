// Package rules loads the catalogue of authorized parent/child relationships
// and form validation rules from YAML, and hot-reloads it when the file
// changes.
package rules

// File is the top-level YAML structure.
type File struct {
	Version         string            `yaml:"version"`
	Relationships   []Relationship    `yaml:"relationships"`
	ValidationRules map[string]string `yaml:"validation_rules"`
}

// Relationship authorizes children of type Child under parents of type
// Parent. A nil Max means no maximum.
type Relationship struct {
	Parent string `yaml:"parent"`
	Child  string `yaml:"child"`
	Min    int    `yaml:"min"`
	Max    *int   `yaml:"max,omitempty"`
}
