package wizard

import (
	"context"
	"sync"
	"testing"
)

const testSchemaYAML = `
name: clinic
list_policy: non_empty
sections:
  - key: org
    fields:
      - {name: name, type: string}
      - {name: kind, type: enum, options: [hospital, clinic]}
      - {name: tags, type: list}
  - key: address
    fields:
      - {name: city, type: string}
      - {name: beds, type: number}
  - key: account
    fields:
      - {name: ref, type: string}
steps:
  - {index: 1, section: org, required: [name, kind, tags]}
  - {index: 2, section: address, required: [city, beds]}
  - {index: 3, section: account, required: [ref]}
`

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := LoadSchema([]byte(testSchemaYAML))
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return s
}

type notice struct {
	Kind    NoticeKind
	Message string
}

type recordingNotifier struct {
	mu        sync.Mutex
	shown     []notice
	dismissed int
}

func (r *recordingNotifier) Show(kind NoticeKind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, notice{kind, msg})
}

func (r *recordingNotifier) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed++
}

func (r *recordingNotifier) count(kind NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.shown {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type fakeCollaborator struct {
	mu       sync.Mutex
	accepted []Record
	calls    int
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeCollaborator) Accept(ctx context.Context, rec Record) error {
	f.mu.Lock()
	f.calls++
	started, release, err := f.started, f.release, f.err
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.accepted = append(f.accepted, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fillStep(t *testing.T, w *Wizard, step int) {
	t.Helper()
	if err := fill(w, step); err != nil {
		t.Fatalf("fill step %d: %v", step, err)
	}
}

func fill(w *Wizard, step int) error {
	switch step {
	case 1:
		return firstErr(
			w.Set("org", "name", String("St. Mary")),
			w.Set("org", "kind", String("hospital")),
			w.AddToList("org", "tags", "cardiology"),
		)
	case 2:
		return firstErr(
			w.Set("address", "city", String("Lagos")),
			w.Set("address", "beds", Number(120)),
		)
	case 3:
		return w.Set("account", "ref", String("ALGO-ADDR-1"))
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func newTestWizard(t *testing.T, c Collaborator) (*Wizard, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	w, err := New(testSchema(t), NewPipeline(c), WithNotifier(n))
	if err != nil {
		t.Fatalf("new wizard: %v", err)
	}
	return w, n
}
