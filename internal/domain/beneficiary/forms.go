package beneficiary

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

//go:embed beneficiary.yaml
var formsYAML []byte

const profile = "profile"

var (
	ErrUnknownKind = errors.New("unknown beneficiary kind")
	ErrInvalidDate = errors.New("date_of_birth must be YYYY-MM-DD and not in the future")
	ErrInvalidRef  = errors.New("guardian_id is not a valid id")
)

type formDoc struct {
	Name       string              `yaml:"name"`
	ListPolicy wizard.ListPolicy   `yaml:"list_policy"`
	Sections   []wizard.SectionDef `yaml:"sections"`
	Steps      []wizard.StepDef    `yaml:"steps"`
}

// Forms holds the compiled single-step schema of each kind.
type Forms map[Kind]*wizard.Schema

// LoadForms compiles the embedded form definitions. Every kind must have a
// form with a single step.
func LoadForms() (Forms, error) {
	return parseForms(formsYAML)
}

func parseForms(data []byte) (Forms, error) {
	var docs map[Kind]formDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse beneficiary forms: %w", err)
	}
	forms := make(Forms, len(docs))
	for _, k := range Kinds {
		doc, ok := docs[k]
		if !ok {
			return nil, &wizard.ConfigurationError{Schema: string(k), Problem: "form is missing"}
		}
		s, err := wizard.NewSchema(doc.Name, doc.ListPolicy, doc.Sections, doc.Steps)
		if err != nil {
			return nil, err
		}
		if s.StepCount() != 1 || !s.HasSection(profile) {
			return nil, &wizard.ConfigurationError{Schema: doc.Name, Problem: "beneficiary forms must have one profile step"}
		}
		forms[k] = s
	}
	for k := range docs {
		if !k.Valid() {
			return nil, &wizard.ConfigurationError{Schema: string(k), Problem: "form for unknown kind"}
		}
	}
	return forms, nil
}

// Fill builds a draft for kind from submitted field values. Unknown fields
// and type mismatches are errors; missing required fields are reported by
// Check.
func (f Forms) Fill(kind Kind, fields map[string]wizard.Value) (*wizard.Draft, error) {
	s, ok := f[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	d := wizard.NewDraft(s)
	for name, v := range fields {
		if err := d.Set(profile, name, v); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Check returns a ValidationError when the form is incomplete.
func Check(d *wizard.Draft) *wizard.ValidationError {
	step, _ := d.Schema().Step(1)
	if wizard.IsStepComplete(step, d) {
		return nil
	}
	return &wizard.ValidationError{Step: 1, Section: profile, Missing: wizard.MissingFields(step, d)}
}

// Fields renders a beneficiary back into form values, for edits.
func Fields(b Beneficiary) map[string]wizard.Value {
	return Match(b, Cases[map[string]wizard.Value]{
		Worker: func(w *Worker) map[string]wizard.Value {
			return map[string]wizard.Value{
				"full_name":    wizard.String(w.FullName),
				"phone":        wizard.String(w.Phone),
				"employer":     wizard.String(w.Employer),
				"job_title":    wizard.String(w.JobTitle),
				"vaccinations": wizard.List(w.Vaccinations...),
			}
		},
		Guardian: func(g *Guardian) map[string]wizard.Value {
			return map[string]wizard.Value{
				"full_name":    wizard.String(g.FullName),
				"phone":        wizard.String(g.Phone),
				"relationship": wizard.String(g.Relationship),
				"national_id":  wizard.String(g.NationalID),
			}
		},
		Dependent: func(d *Dependent) map[string]wizard.Value {
			return map[string]wizard.Value{
				"full_name":     wizard.String(d.FullName),
				"date_of_birth": wizard.String(d.DateOfBirth.Format(time.DateOnly)),
				"guardian_id":   wizard.String(d.GuardianID.String()),
				"conditions":    wizard.List(d.Conditions...),
			}
		},
	})
}

// build converts a complete draft into its variant.
func build(kind Kind, d *wizard.Draft, now time.Time) (Beneficiary, error) {
	p := d.Get(profile)
	text := func(name string) string { return strings.TrimSpace(p[name].Text()) }
	list := func(name string) []string {
		out := []string{}
		for _, e := range p[name].List {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
		return out
	}

	switch kind {
	case KindWorker:
		return &Worker{
			FullName:     text("full_name"),
			Phone:        text("phone"),
			Employer:     text("employer"),
			JobTitle:     text("job_title"),
			Vaccinations: list("vaccinations"),
		}, nil
	case KindGuardian:
		return &Guardian{
			FullName:     text("full_name"),
			Phone:        text("phone"),
			Relationship: text("relationship"),
			NationalID:   text("national_id"),
		}, nil
	case KindDependent:
		dob, err := time.Parse(time.DateOnly, text("date_of_birth"))
		if err != nil || dob.After(now) {
			return nil, ErrInvalidDate
		}
		gid, err := uuid.Parse(text("guardian_id"))
		if err != nil {
			return nil, ErrInvalidRef
		}
		return &Dependent{
			FullName:    text("full_name"),
			DateOfBirth: dob,
			GuardianID:  gid,
			Conditions:  list("conditions"),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
