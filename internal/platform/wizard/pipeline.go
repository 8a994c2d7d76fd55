package wizard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the review state of a persisted record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Record is the persisted shape of a submitted draft. The pipeline creates it
// once; from then on it belongs to the collaborator.
type Record struct {
	ID        string             `json:"id"`
	Schema    string             `json:"schema"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Sections  map[string]Section `json:"sections"`
}

// Collaborator is the storage or API boundary that accepts records. Errors
// may be wrapped with Transient or Permanent; anything else is permanent.
type Collaborator interface {
	Accept(ctx context.Context, rec Record) error
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, rec Record) error

func (f CollaboratorFunc) Accept(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Transform rewrites a record before hand-off, e.g. to normalise values.
type Transform func(rec *Record) error

// Pipeline turns complete drafts into records.
type Pipeline struct {
	collaborator Collaborator
	transforms   []Transform
	timeout      time.Duration
	now          func() time.Time
	newID        func() string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithTimeout bounds each collaborator call. Zero disables the bound.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithTransforms appends record transforms, run in order.
func WithTransforms(ts ...Transform) PipelineOption {
	return func(p *Pipeline) { p.transforms = append(p.transforms, ts...) }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides record identity generation.
func WithIDGenerator(fn func() string) PipelineOption {
	return func(p *Pipeline) { p.newID = fn }
}

// NewPipeline creates a pipeline that hands records to c.
func NewPipeline(c Collaborator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		collaborator: c,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitDraft builds a pending record from the draft and hands it to the
// collaborator. Any returned error is a *SubmissionError.
func (p *Pipeline) SubmitDraft(ctx context.Context, draft *Draft) (Record, error) {
	rec := Record{
		ID:        p.newID(),
		Schema:    draft.schema.Name,
		Status:    StatusPending,
		CreatedAt: p.now(),
		Sections:  draft.Sections(),
	}
	for _, t := range p.transforms {
		if err := t(&rec); err != nil {
			return Record{}, &SubmissionError{Kind: KindPermanent, Err: err}
		}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.collaborator.Accept(ctx, rec); err != nil {
		return Record{}, classify(err)
	}
	return rec, nil
}

func classify(err error) *SubmissionError {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &SubmissionError{Kind: KindTransient, Err: err}
	}
	return &SubmissionError{Kind: KindPermanent, Err: err}
}

// TrimStrings is a Transform that strips surrounding whitespace from string
// values and list entries, dropping blank list entries.
func TrimStrings(rec *Record) error {
	for _, sec := range rec.Sections {
		for name, v := range sec {
			switch v.Kind {
			case FieldString, FieldEnum:
				v.Str = strings.TrimSpace(v.Str)
			case FieldList:
				kept := v.List[:0]
				for _, item := range v.List {
					if t := strings.TrimSpace(item); t != "" {
						kept = append(kept, t)
					}
				}
				v.List = kept
			}
			sec[name] = v
		}
	}
	return nil
}
