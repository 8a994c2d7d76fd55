package beneficiary

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a beneficiary variant.
type Kind string

const (
	KindWorker    Kind = "worker"
	KindGuardian  Kind = "guardian"
	KindDependent Kind = "dependent"
)

// Kinds lists every variant in a stable order.
var Kinds = []Kind{KindWorker, KindGuardian, KindDependent}

func (k Kind) Valid() bool {
	switch k {
	case KindWorker, KindGuardian, KindDependent:
		return true
	}
	return false
}

// Meta is shared by every variant.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Meta) meta() *Meta { return m }

// Beneficiary is the closed set Worker | Guardian | Dependent. The unexported
// method keeps other packages from adding variants; use Match to branch.
type Beneficiary interface {
	meta() *Meta
	Kind() Kind
}

// Worker is a health or frontline worker enrolled directly.
type Worker struct {
	Meta
	FullName     string   `json:"full_name"`
	Phone        string   `json:"phone"`
	Employer     string   `json:"employer"`
	JobTitle     string   `json:"job_title,omitempty"`
	Vaccinations []string `json:"vaccinations"`
}

// Guardian is responsible for one or more dependents.
type Guardian struct {
	Meta
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
	NationalID   string `json:"national_id,omitempty"`
}

// Dependent is enrolled through a guardian.
type Dependent struct {
	Meta
	FullName    string    `json:"full_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	GuardianID  uuid.UUID `json:"guardian_id"`
	Conditions  []string  `json:"conditions"`
}

func (*Worker) Kind() Kind    { return KindWorker }
func (*Guardian) Kind() Kind  { return KindGuardian }
func (*Dependent) Kind() Kind { return KindDependent }

// ID returns the identifier of any variant.
func ID(b Beneficiary) uuid.UUID { return b.meta().ID }

// Cases holds one branch per variant. Match panics when a branch is nil, so
// a missing case fails loudly in tests rather than silently at runtime.
type Cases[T any] struct {
	Worker    func(*Worker) T
	Guardian  func(*Guardian) T
	Dependent func(*Dependent) T
}

// Match dispatches b to the branch for its variant.
func Match[T any](b Beneficiary, c Cases[T]) T {
	if c.Worker == nil || c.Guardian == nil || c.Dependent == nil {
		panic("beneficiary: Match requires a case for every kind")
	}
	switch v := b.(type) {
	case *Worker:
		return c.Worker(v)
	case *Guardian:
		return c.Guardian(v)
	case *Dependent:
		return c.Dependent(v)
	}
	panic(fmt.Sprintf("beneficiary: unknown variant %T", b))
}

// DisplayName is the name shown in lists.
func DisplayName(b Beneficiary) string {
	return Match(b, Cases[string]{
		Worker:    func(w *Worker) string { return w.FullName },
		Guardian:  func(g *Guardian) string { return g.FullName },
		Dependent: func(d *Dependent) string { return d.FullName },
	})
}

// clone returns a deep copy so stored values never alias caller values.
func clone(b Beneficiary) Beneficiary {
	return Match(b, Cases[Beneficiary]{
		Worker: func(w *Worker) Beneficiary {
			cp := *w
			cp.Vaccinations = append([]string{}, w.Vaccinations...)
			return &cp
		},
		Guardian: func(g *Guardian) Beneficiary {
			cp := *g
			return &cp
		},
		Dependent: func(d *Dependent) Beneficiary {
			cp := *d
			cp.Conditions = append([]string{}, d.Conditions...)
			return &cp
		},
	})
}

// Envelope is the wire form {"kind": ..., "data": {...}}.
type Envelope struct {
	Value Beneficiary
}

type envelopeJSON struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Value == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(e.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{Kind: e.Value.Kind(), Data: data})
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var env envelopeJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	var target Beneficiary
	switch env.Kind {
	case KindWorker:
		target = &Worker{}
	case KindGuardian:
		target = &Guardian{}
	case KindDependent:
		target = &Dependent{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	e.Value = target
	return nil
}
