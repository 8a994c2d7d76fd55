// Package wizard implements linear multi-step forms with per-step validation
// gating: a field store holding the draft record, a pure step validator, the
// wizard controller state machine and the submission pipeline that turns a
// complete draft into a persisted record.
package wizard

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is the declared type of a draft field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldEnum   FieldType = "enum"
	FieldList   FieldType = "list"
)

func (t FieldType) valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldEnum, FieldList:
		return true
	}
	return false
}

// ListPolicy decides what "required" means for list-typed fields.
type ListPolicy string

const (
	// ListNonEmpty treats a required list as complete once it holds at least
	// one non-blank entry.
	ListNonEmpty ListPolicy = "non_empty"
	// ListIgnore never enforces required list fields.
	ListIgnore ListPolicy = "ignore"
)

// FieldDef declares a single field of a section.
type FieldDef struct {
	Name    string    `yaml:"name" json:"name"`
	Type    FieldType `yaml:"type" json:"type"`
	Options []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// SectionDef declares a named group of fields.
type SectionDef struct {
	Key    string     `yaml:"key" json:"key"`
	Fields []FieldDef `yaml:"fields" json:"fields"`
}

// StepDef is one page of the wizard: the section it edits and the fields that
// must be filled before leaving it.
type StepDef struct {
	Index    int      `yaml:"index" json:"index"`
	Section  string   `yaml:"section" json:"section"`
	Required []string `yaml:"required" json:"required"`
}

// Schema is the static definition of a wizard. It is validated once at
// construction and is immutable afterwards.
type Schema struct {
	Name       string       `yaml:"name" json:"name"`
	ListPolicy ListPolicy   `yaml:"list_policy" json:"list_policy"`
	Sections   []SectionDef `yaml:"sections" json:"sections"`
	Steps      []StepDef    `yaml:"steps" json:"steps"`

	fields map[string]map[string]FieldDef
}

// NewSchema validates the definition and returns a ready-to-use schema.
// Any structural defect is reported as a *ConfigurationError.
func NewSchema(name string, policy ListPolicy, sections []SectionDef, steps []StepDef) (*Schema, error) {
	s := &Schema{Name: name, ListPolicy: policy, Sections: sections, Steps: steps}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchema parses a YAML schema document.
func LoadSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, &ConfigurationError{Schema: "<unparsed>", Problem: fmt.Sprintf("decode yaml: %v", err)}
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// MustLoadSchema is LoadSchema for embedded definitions; it panics on a
// malformed document.
func MustLoadSchema(data []byte) *Schema {
	s, err := LoadSchema(data)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) compile() error {
	fail := func(format string, args ...interface{}) error {
		return &ConfigurationError{Schema: s.Name, Problem: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(s.Name) == "" {
		return fail("schema name is required")
	}
	if s.ListPolicy == "" {
		s.ListPolicy = ListNonEmpty
	}
	if s.ListPolicy != ListNonEmpty && s.ListPolicy != ListIgnore {
		return fail("unknown list policy %q", s.ListPolicy)
	}
	if len(s.Steps) == 0 {
		return fail("at least one step is required")
	}

	s.fields = make(map[string]map[string]FieldDef, len(s.Sections))
	for _, sec := range s.Sections {
		if sec.Key == "" {
			return fail("section key is required")
		}
		if _, dup := s.fields[sec.Key]; dup {
			return fail("section %q declared twice", sec.Key)
		}
		defs := make(map[string]FieldDef, len(sec.Fields))
		for _, f := range sec.Fields {
			if f.Name == "" {
				return fail("section %q has a field without a name", sec.Key)
			}
			if !f.Type.valid() {
				return fail("field %s.%s has unknown type %q", sec.Key, f.Name, f.Type)
			}
			if f.Type == FieldEnum && len(f.Options) == 0 {
				return fail("enum field %s.%s declares no options", sec.Key, f.Name)
			}
			if _, dup := defs[f.Name]; dup {
				return fail("field %s.%s declared twice", sec.Key, f.Name)
			}
			defs[f.Name] = f
		}
		s.fields[sec.Key] = defs
	}

	covered := make(map[string]int, len(s.Steps))
	for i, st := range s.Steps {
		if st.Index != i+1 {
			return fail("step indices must be contiguous from 1, position %d has index %d", i+1, st.Index)
		}
		defs, ok := s.fields[st.Section]
		if !ok {
			return fail("step %d references unknown section %q", st.Index, st.Section)
		}
		if prev, seen := covered[st.Section]; seen {
			return fail("section %q is used by steps %d and %d", st.Section, prev, st.Index)
		}
		covered[st.Section] = st.Index
		for _, req := range st.Required {
			if _, ok := defs[req]; !ok {
				return fail("step %d requires unknown field %s.%s", st.Index, st.Section, req)
			}
		}
	}
	for _, sec := range s.Sections {
		if _, ok := covered[sec.Key]; !ok {
			return fail("section %q is not edited by any step", sec.Key)
		}
	}
	return nil
}

// StepCount returns N, the number of steps.
func (s *Schema) StepCount() int { return len(s.Steps) }

// Step returns the definition for the 1-based index.
func (s *Schema) Step(index int) (StepDef, bool) {
	if index < 1 || index > len(s.Steps) {
		return StepDef{}, false
	}
	return s.Steps[index-1], true
}

// Field looks up a field definition.
func (s *Schema) Field(section, field string) (FieldDef, bool) {
	defs, ok := s.fields[section]
	if !ok {
		return FieldDef{}, false
	}
	f, ok := defs[field]
	return f, ok
}

// HasSection reports whether the section is part of the schema.
func (s *Schema) HasSection(section string) bool {
	_, ok := s.fields[section]
	return ok
}
