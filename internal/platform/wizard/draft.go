package wizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrTypeMismatch = errors.New("value does not match field type")
)

// Draft is the field store: the in-progress record a wizard collects. Its
// shape is fixed by the schema when it is created. A Draft is not safe for
// concurrent use; the Wizard serializes access to the draft it owns.
type Draft struct {
	schema   *Schema
	sections map[string]Section
}

// NewDraft creates an empty draft with every section and field of the schema.
func NewDraft(schema *Schema) *Draft {
	d := &Draft{schema: schema, sections: make(map[string]Section, len(schema.Sections))}
	for _, sec := range schema.Sections {
		values := make(Section, len(sec.Fields))
		for _, f := range sec.Fields {
			values[f.Name] = Value{}
		}
		d.sections[sec.Key] = values
	}
	return d
}

// Schema returns the schema the draft was built from.
func (d *Draft) Schema() *Schema { return d.schema }

// Set assigns a value. An unset Value clears the field.
func (d *Draft) Set(section, field string, v Value) error {
	def, ok := d.schema.Field(section, field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, section, field)
	}
	if !v.IsSet() {
		d.sections[section][field] = Value{}
		return nil
	}
	coerced, err := coerce(def, v)
	if err != nil {
		return err
	}
	d.sections[section][field] = coerced
	return nil
}

func coerce(def FieldDef, v Value) (Value, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, def.Name, def.Type, v.Kind)
	}
	switch def.Type {
	case FieldString:
		if v.Kind != FieldString {
			return Value{}, mismatch()
		}
		return v, nil
	case FieldEnum:
		if v.Kind != FieldString && v.Kind != FieldEnum {
			return Value{}, mismatch()
		}
		for _, opt := range def.Options {
			if opt == v.Str {
				return Value{Kind: FieldEnum, Str: v.Str}, nil
			}
		}
		return Value{}, fmt.Errorf("%w: %q is not one of %s", ErrTypeMismatch, v.Str, strings.Join(def.Options, ", "))
	case FieldNumber:
		if v.Kind != FieldNumber {
			return Value{}, mismatch()
		}
		return v, nil
	case FieldList:
		if v.Kind != FieldList {
			return Value{}, mismatch()
		}
		return v.clone(), nil
	}
	return Value{}, mismatch()
}

// Get returns a copy of the section. Unknown sections yield an empty Section.
func (d *Draft) Get(section string) Section {
	values, ok := d.sections[section]
	if !ok {
		return Section{}
	}
	return values.clone()
}

// Value returns a single field value.
func (d *Draft) Value(section, field string) Value {
	return d.sections[section][field].clone()
}

// AddToList appends an entry to a list field. Blank entries are ignored.
func (d *Draft) AddToList(section, field, entry string) error {
	if err := d.requireList(section, field); err != nil {
		return err
	}
	if strings.TrimSpace(entry) == "" {
		return nil
	}
	cur := d.sections[section][field]
	d.sections[section][field] = Value{Kind: FieldList, List: append(append([]string(nil), cur.List...), entry)}
	return nil
}

// RemoveFromList deletes the entry at index. An index outside [0, len) leaves
// the list unchanged.
func (d *Draft) RemoveFromList(section, field string, index int) error {
	if err := d.requireList(section, field); err != nil {
		return err
	}
	cur := d.sections[section][field]
	if index < 0 || index >= len(cur.List) {
		return nil
	}
	next := make([]string, 0, len(cur.List)-1)
	next = append(next, cur.List[:index]...)
	next = append(next, cur.List[index+1:]...)
	d.sections[section][field] = Value{Kind: FieldList, List: next}
	return nil
}

func (d *Draft) requireList(section, field string) error {
	def, ok := d.schema.Field(section, field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, section, field)
	}
	if def.Type != FieldList {
		return fmt.Errorf("%w: %s is a %s field", ErrTypeMismatch, def.Name, def.Type)
	}
	return nil
}

// Clone returns an independent deep copy.
func (d *Draft) Clone() *Draft {
	out := &Draft{schema: d.schema, sections: make(map[string]Section, len(d.sections))}
	for k, v := range d.sections {
		out.sections[k] = v.clone()
	}
	return out
}

// Sections returns a deep copy of every section keyed by section name.
func (d *Draft) Sections() map[string]Section {
	out := make(map[string]Section, len(d.sections))
	for k, v := range d.sections {
		out[k] = v.clone()
	}
	return out
}
