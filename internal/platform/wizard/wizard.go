package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is the coarse controller state. While in PhaseStep the current step
// index says which page is active.
type Phase int

const (
	PhaseStep Phase = iota
	PhaseSubmitting
	PhaseSubmitted
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseStep:
		return "step"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSubmitted:
		return "submitted"
	case PhaseAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Outcome summarises a Submit call.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeAbandoned Outcome = "abandoned"
)

// StepResult describes a navigation attempt.
type StepResult struct {
	From       int              `json:"from"`
	To         int              `json:"to"`
	Moved      bool             `json:"moved"`
	Validation *ValidationError `json:"validation,omitempty"`
}

// SubmitResult describes a submission attempt. Failed submissions leave the
// controller on the final step with the draft intact.
type SubmitResult struct {
	Outcome    Outcome          `json:"outcome"`
	Record     *Record          `json:"record,omitempty"`
	Validation *ValidationError `json:"validation,omitempty"`
	Failure    *SubmissionError `json:"-"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Schema      string             `json:"schema"`
	Phase       Phase              `json:"phase"`
	Step        int                `json:"step"`
	Steps       int                `json:"steps"`
	Complete    []bool             `json:"complete"`
	Sections    map[string]Section `json:"sections,omitempty"`
	Record      *Record            `json:"record,omitempty"`
	LastFailure string             `json:"last_failure,omitempty"`
}

// Wizard is the controller for one editing session. All methods are safe
// for concurrent use; operations on one wizard are serialized, and while a
// submission is in flight every mutating call fails with ErrBusy.
type Wizard struct {
	mu          sync.Mutex
	schema      *Schema
	pipeline    *Pipeline
	draft       *Draft
	step        int
	phase       Phase
	record      *Record
	lastFailure *SubmissionError
	notifiers   []Notifier
	observer    Observer
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithNotifier subscribes n to the wizard's notices.
func WithNotifier(n Notifier) Option {
	return func(w *Wizard) { w.notifiers = append(w.notifiers, n) }
}

// WithObserver installs an event observer.
func WithObserver(o Observer) Option {
	return func(w *Wizard) { w.observer = o }
}

// WithDraft starts the wizard from a pre-filled draft instead of an empty one.
func WithDraft(d *Draft) Option {
	return func(w *Wizard) { w.draft = d }
}

// New creates a wizard positioned on step 1.
func New(schema *Schema, pipeline *Pipeline, opts ...Option) (*Wizard, error) {
	if schema == nil || schema.fields == nil {
		return nil, &ConfigurationError{Schema: "<nil>", Problem: "wizard requires a compiled schema"}
	}
	if pipeline == nil {
		return nil, &ConfigurationError{Schema: schema.Name, Problem: "wizard requires a submission pipeline"}
	}
	w := &Wizard{schema: schema, pipeline: pipeline, step: 1, phase: PhaseStep, observer: nopObserver{}}
	for _, opt := range opts {
		opt(w)
	}
	if w.draft == nil {
		w.draft = NewDraft(schema)
	} else if w.draft.schema != schema {
		return nil, &ConfigurationError{Schema: schema.Name, Problem: "draft was built from a different schema"}
	}
	return w, nil
}

// Subscribe adds a notifier after construction.
func (w *Wizard) Subscribe(n Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifiers = append(w.notifiers, n)
}

func (w *Wizard) show(kind NoticeKind, msg string) {
	for _, n := range w.notifiers {
		n.Show(kind, msg)
	}
}

// Dismiss clears the notice on every subscriber.
func (w *Wizard) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range w.notifiers {
		n.Dismiss()
	}
}

func (w *Wizard) guard() error {
	switch w.phase {
	case PhaseSubmitting:
		return ErrBusy
	case PhaseSubmitted:
		return ErrSubmitted
	case PhaseAbandoned:
		return ErrAbandoned
	}
	return nil
}

// Set assigns a draft field.
func (w *Wizard) Set(section, field string, v Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	return w.draft.Set(section, field, v)
}

// AddToList appends to a list field.
func (w *Wizard) AddToList(section, field, entry string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	return w.draft.AddToList(section, field, entry)
}

// RemoveFromList removes a list entry; out-of-range indices are ignored.
func (w *Wizard) RemoveFromList(section, field string, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	return w.draft.RemoveFromList(section, field, index)
}

// Next advances one step when the current step is complete. On an
// incomplete step it stays put and shows a single error notice. It never
// moves past the final step.
func (w *Wizard) Next() (StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return StepResult{}, err
	}
	from := w.step
	if from == w.schema.StepCount() {
		return StepResult{From: from, To: from}, nil
	}
	if verr := w.check(from); verr != nil {
		return StepResult{From: from, To: from, Validation: verr}, nil
	}
	w.moveTo(from + 1)
	return StepResult{From: from, To: w.step, Moved: true}, nil
}

// Previous goes back one step without validating. It is a no-op on step 1.
func (w *Wizard) Previous() (StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return StepResult{}, err
	}
	from := w.step
	if from == 1 {
		return StepResult{From: 1, To: 1}, nil
	}
	w.moveTo(from - 1)
	return StepResult{From: from, To: w.step, Moved: true}, nil
}

// GoTo jumps to step k. Jumping back is unconditional; jumping forward
// requires every step from the current one up to k-1 to be complete, and
// otherwise reports the first incomplete step without moving.
func (w *Wizard) GoTo(k int) (StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return StepResult{}, err
	}
	if k < 1 || k > w.schema.StepCount() {
		return StepResult{}, fmt.Errorf("%w: %d not in 1..%d", ErrStepOutOfRange, k, w.schema.StepCount())
	}
	from := w.step
	if k == from {
		return StepResult{From: from, To: from}, nil
	}
	for i := from; i < k; i++ {
		if verr := w.check(i); verr != nil {
			return StepResult{From: from, To: from, Validation: verr}, nil
		}
	}
	w.moveTo(k)
	return StepResult{From: from, To: k, Moved: true}, nil
}

// check validates step i and, when it is incomplete, notifies once.
func (w *Wizard) check(i int) *ValidationError {
	def, _ := w.schema.Step(i)
	missing := MissingFields(def, w.draft)
	if len(missing) == 0 {
		return nil
	}
	verr := &ValidationError{Step: i, Section: def.Section, Missing: missing}
	w.observer.StepBlocked(i, missing)
	w.show(NoticeError, fmt.Sprintf("Please complete step %d: %s", i, strings.Join(missing, ", ")))
	return verr
}

func (w *Wizard) moveTo(k int) {
	from := w.step
	w.step = k
	w.observer.StepChanged(from, k)
}

// Submit hands the draft to the pipeline. It is only allowed from the final
// step and only when every step is complete; edits made from step N to an
// earlier section are caught here. The collaborator call runs
// without the caller's cancellation (bounded by the pipeline timeout) and
// without holding the lock, so Abandon can interrupt a session whose
// submission is still in flight; the late outcome is then discarded.
func (w *Wizard) Submit(ctx context.Context) (SubmitResult, error) {
	w.mu.Lock()
	if err := w.guard(); err != nil {
		w.mu.Unlock()
		return SubmitResult{}, err
	}
	n := w.schema.StepCount()
	if w.step != n {
		w.mu.Unlock()
		return SubmitResult{}, ErrNotFinalStep
	}
	for i := 1; i <= n; i++ {
		if verr := w.check(i); verr != nil {
			w.mu.Unlock()
			return SubmitResult{Outcome: OutcomeBlocked, Validation: verr}, nil
		}
	}
	w.phase = PhaseSubmitting
	snapshot := w.draft.Clone()
	w.mu.Unlock()

	start := time.Now()
	rec, err := w.handOff(context.WithoutCancel(ctx), snapshot)
	elapsed := time.Since(start)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == PhaseAbandoned {
		w.observer.SubmitFinished(OutcomeAbandoned, elapsed)
		return SubmitResult{Outcome: OutcomeAbandoned, Elapsed: elapsed}, ErrAbandoned
	}
	if err != nil {
		var serr *SubmissionError
		if !errors.As(err, &serr) {
			serr = classify(err)
		}
		w.phase = PhaseStep
		w.lastFailure = serr
		w.observer.SubmitFinished(OutcomeFailed, elapsed)
		w.show(NoticeError, failureMessage(serr))
		return SubmitResult{Outcome: OutcomeFailed, Failure: serr, Elapsed: elapsed}, nil
	}
	w.phase = PhaseSubmitted
	w.record = &rec
	w.lastFailure = nil
	w.draft = nil
	w.observer.SubmitFinished(OutcomeSubmitted, elapsed)
	w.show(NoticeSuccess, "Registration submitted. Reference "+rec.ID)
	return SubmitResult{Outcome: OutcomeSubmitted, Record: &rec, Elapsed: elapsed}, nil
}

// handOff runs the pipeline and turns a panic in a transform or the
// collaborator into a permanent failure, so the session never stays busy.
func (w *Wizard) handOff(ctx context.Context, d *Draft) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = Record{}, Permanent(fmt.Errorf("%w: %v", ErrCollaboratorPanic, r))
		}
	}()
	return w.pipeline.SubmitDraft(ctx, d)
}

func failureMessage(e *SubmissionError) string {
	if e.Kind == KindTransient {
		return "Submission did not complete. Your answers are kept; please try again."
	}
	if e.Err == nil {
		return "Submission was rejected."
	}
	return "Submission was rejected: " + e.Err.Error()
}

// Abandon discards the session. A submission already in flight is not
// cancelled, but its outcome will be ignored. Abandon is idempotent.
func (w *Wizard) Abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == PhaseAbandoned {
		return
	}
	w.phase = PhaseAbandoned
	w.draft = nil
	for _, n := range w.notifiers {
		n.Dismiss()
	}
}

// Phase returns the current phase and step index.
func (w *Wizard) Phase() (Phase, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase, w.step
}

// Schema returns the wizard's schema.
func (w *Wizard) Schema() *Schema { return w.schema }

// Snapshot returns a deep copy of the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{Schema: w.schema.Name, Phase: w.phase, Step: w.step, Steps: w.schema.StepCount()}
	if w.draft != nil {
		s.Sections = w.draft.Sections()
		s.Complete = make([]bool, len(w.schema.Steps))
		for i, st := range w.schema.Steps {
			s.Complete[i] = IsStepComplete(st, w.draft)
		}
	}
	if w.record != nil {
		rec := *w.record
		s.Record = &rec
	}
	if w.lastFailure != nil {
		s.LastFailure = w.lastFailure.Error()
	}
	return s
}
