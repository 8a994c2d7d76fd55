package wizard

import (
	"errors"
	"fmt"
	"strings"
)

// Guard violations. These are the only errors the controller returns; data
// problems are reported through notifications and result structs instead.
var (
	ErrBusy           = errors.New("wizard: submission in progress")
	ErrSubmitted      = errors.New("wizard: already submitted")
	ErrAbandoned      = errors.New("wizard: session abandoned")
	ErrNotFinalStep   = errors.New("wizard: submit is only allowed from the final step")
	ErrStepOutOfRange = errors.New("wizard: step out of range")
)

// ErrCollaboratorPanic wraps a panic raised during the submission hand-off.
var ErrCollaboratorPanic = errors.New("wizard: submission panicked")

// ConfigurationError reports a defective schema. It is raised while building
// a schema or wizard and should abort startup.
type ConfigurationError struct {
	Schema  string
	Problem string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("wizard schema %q: %s", e.Schema, e.Problem)
}

// ValidationError lists the required fields of a step that are still empty.
type ValidationError struct {
	Step    int
	Section string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %d (%s) is incomplete: missing %s", e.Step, e.Section, strings.Join(e.Missing, ", "))
}

// SubmissionKind classifies a failed hand-off to the collaborator.
type SubmissionKind string

const (
	KindTransient SubmissionKind = "transient"
	KindPermanent SubmissionKind = "permanent"
)

// SubmissionError is the failure of the external collaborator call.
type SubmissionError struct {
	Kind SubmissionKind
	Err  error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submission failed (%s)", e.Kind)
	}
	return fmt.Sprintf("submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Retryable reports whether a caller could reasonably try again. Nothing in
// this package retries on its own.
func (e *SubmissionError) Retryable() bool { return e.Kind == KindTransient }

// Transient marks a collaborator error as worth retrying.
func Transient(err error) error {
	return &SubmissionError{Kind: KindTransient, Err: err}
}

// Permanent marks a collaborator error as final.
func Permanent(err error) error {
	return &SubmissionError{Kind: KindPermanent, Err: err}
}
