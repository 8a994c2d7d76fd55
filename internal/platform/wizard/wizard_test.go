package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New(testSchema(t), nil)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNew_RejectsForeignDraft(t *testing.T) {
	other := testSchema(t)
	_, err := New(testSchema(t), NewPipeline(&fakeCollaborator{}), WithDraft(NewDraft(other)))
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNext_Gating(t *testing.T) {
	for k := 1; k <= 2; k++ {
		for _, complete := range []bool{true, false} {
			w, n := newTestWizard(t, &fakeCollaborator{})
			for i := 1; i < k; i++ {
				fillStep(t, w, i)
				if _, err := w.Next(); err != nil {
					t.Fatal(err)
				}
			}
			if complete {
				fillStep(t, w, k)
			}
			res, err := w.Next()
			if err != nil {
				t.Fatal(err)
			}
			_, step := w.Phase()
			if complete && (step != k+1 || !res.Moved) {
				t.Errorf("step %d complete: expected move to %d, at %d", k, k+1, step)
			}
			if !complete {
				if step != k || res.Moved {
					t.Errorf("step %d incomplete: expected to stay, at %d", k, step)
				}
				if res.Validation == nil || res.Validation.Step != k {
					t.Errorf("expected validation result for step %d, got %+v", k, res.Validation)
				}
				if got := n.count(NoticeError); got != 1 {
					t.Errorf("expected exactly one error notice, got %d", got)
				}
			}
		}
	}
}

func TestNext_NeverPastFinalStep(t *testing.T) {
	w, _ := newTestWizard(t, &fakeCollaborator{})
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	for i := 0; i < 5; i++ {
		if _, err := w.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if _, step := w.Phase(); step != 3 {
		t.Errorf("expected to rest on step 3, got %d", step)
	}
}

func TestPrevious_NoDataLoss(t *testing.T) {
	w, _ := newTestWizard(t, &fakeCollaborator{})
	fillStep(t, w, 1)
	fillStep(t, w, 2)
	_, _ = w.Next()
	_, _ = w.Next()
	before := w.Snapshot()

	if res, _ := w.Previous(); !res.Moved || res.To != 2 {
		t.Fatalf("expected back to step 2, got %+v", res)
	}
	if res, _ := w.Next(); !res.Moved || res.To != 3 {
		t.Fatalf("expected forward to step 3, got %+v", res)
	}
	if diff := cmp.Diff(before, w.Snapshot()); diff != "" {
		t.Errorf("back-then-forward changed state (-want +got):\n%s", diff)
	}
}

func TestPrevious_NoopOnFirstStep(t *testing.T) {
	w, n := newTestWizard(t, &fakeCollaborator{})
	res, err := w.Previous()
	if err != nil || res.Moved || res.To != 1 {
		t.Errorf("expected no-op, got %+v %v", res, err)
	}
	if len(n.shown) != 0 {
		t.Errorf("previous should never notify, got %v", n.shown)
	}
}

func TestGoTo(t *testing.T) {
	w, n := newTestWizard(t, &fakeCollaborator{})
	fillStep(t, w, 1)

	res, err := w.GoTo(3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Moved || res.Validation == nil || res.Validation.Step != 2 {
		t.Fatalf("expected block on step 2, got %+v", res)
	}
	if n.count(NoticeError) != 1 {
		t.Errorf("expected one error notice, got %d", n.count(NoticeError))
	}

	fillStep(t, w, 2)
	if res, _ := w.GoTo(3); !res.Moved {
		t.Fatalf("expected jump to 3, got %+v", res)
	}
	if res, _ := w.GoTo(1); !res.Moved || res.To != 1 {
		t.Fatalf("backwards jump is unconditional, got %+v", res)
	}
	if _, err := w.GoTo(4); !errors.Is(err, ErrStepOutOfRange) {
		t.Errorf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	c := &fakeCollaborator{}
	w, n := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
		if i < 3 {
			_, _ = w.Next()
		}
	}
	res, err := w.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSubmitted || res.Record == nil {
		t.Fatalf("expected submitted record, got %+v", res)
	}
	if res.Record.Status != StatusPending || res.Record.ID == "" {
		t.Errorf("unexpected record metadata: %+v", res.Record)
	}
	if phase, _ := w.Phase(); phase != PhaseSubmitted {
		t.Errorf("expected submitted phase, got %v", phase)
	}
	if n.count(NoticeSuccess) != 1 {
		t.Errorf("expected a success notice")
	}
	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrSubmitted) {
		t.Errorf("second submit should fail with ErrSubmitted, got %v", err)
	}
	if c.callCount() != 1 {
		t.Errorf("expected one collaborator call, got %d", c.callCount())
	}
}

func TestSubmit_OnlyFromFinalStep(t *testing.T) {
	w, _ := newTestWizard(t, &fakeCollaborator{})
	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrNotFinalStep) {
		t.Errorf("expected ErrNotFinalStep, got %v", err)
	}
}

func TestSubmit_AccountAttachGatesSubmit(t *testing.T) {
	c := &fakeCollaborator{}
	w, _ := newTestWizard(t, c)
	fillStep(t, w, 1)
	fillStep(t, w, 2)
	_, _ = w.GoTo(3)

	res, err := w.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked || c.callCount() != 0 {
		t.Fatalf("submit without account should be blocked, got %+v", res)
	}
	fillStep(t, w, 3)
	res, _ = w.Submit(context.Background())
	if res.Outcome != OutcomeSubmitted {
		t.Errorf("submit after attach should succeed, got %+v", res)
	}
}

func TestSubmit_FailureReturnsToFinalStep(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		kind SubmissionKind
	}{
		{"permanent", errors.New("duplicate registration number"), KindPermanent},
		{"transient", Transient(errors.New("upstream unavailable")), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w, n := newTestWizard(t, &fakeCollaborator{err: tt.err})
			for i := 1; i <= 3; i++ {
				fillStep(t, w, i)
			}
			_, _ = w.GoTo(3)
			before := w.Snapshot().Sections

			res, err := w.Submit(context.Background())
			if err != nil {
				t.Fatalf("submission failures are not returned as errors: %v", err)
			}
			if res.Outcome != OutcomeFailed || res.Failure.Kind != tt.kind {
				t.Fatalf("expected %s failure, got %+v", tt.kind, res)
			}
			phase, step := w.Phase()
			if phase != PhaseStep || step != 3 {
				t.Errorf("expected to rest on step 3, got %v/%d", phase, step)
			}
			if diff := cmp.Diff(before, w.Snapshot().Sections); diff != "" {
				t.Errorf("draft changed after failure (-want +got):\n%s", diff)
			}
			if n.count(NoticeError) != 1 {
				t.Errorf("expected one error notice, got %d", n.count(NoticeError))
			}
		})
	}
}

func TestSubmit_RevalidatesEarlierSteps(t *testing.T) {
	c := &fakeCollaborator{}
	w, n := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)
	if err := w.Set("org", "name", String("   ")); err != nil {
		t.Fatal(err)
	}

	res, err := w.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked || res.Validation == nil || res.Validation.Step != 1 {
		t.Fatalf("expected submit blocked on step 1, got %+v", res)
	}
	if c.callCount() != 0 {
		t.Errorf("collaborator must not see an incomplete record, got %d calls", c.callCount())
	}
	if n.count(NoticeError) != 1 {
		t.Errorf("expected one error notice, got %d", n.count(NoticeError))
	}
	if phase, step := w.Phase(); phase != PhaseStep || step != 3 {
		t.Errorf("expected to stay on step 3, got %v/%d", phase, step)
	}
}

func TestSubmit_PanicReturnsToFinalStep(t *testing.T) {
	calls := 0
	c := CollaboratorFunc(func(ctx context.Context, rec Record) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	})
	w, n := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)

	res, err := w.Submit(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Failure.Retryable() || !errors.Is(res.Failure, ErrCollaboratorPanic) {
		t.Fatalf("expected permanent panic failure, got %+v", res)
	}
	if phase, step := w.Phase(); phase != PhaseStep || step != 3 {
		t.Fatalf("expected to rest on step 3, got %v/%d", phase, step)
	}
	if n.count(NoticeError) != 1 {
		t.Errorf("expected one error notice, got %d", n.count(NoticeError))
	}
	if _, err := w.Previous(); err != nil {
		t.Errorf("session should accept navigation after the failure, got %v", err)
	}
	_, _ = w.GoTo(3)
	if res, _ := w.Submit(context.Background()); res.Outcome != OutcomeSubmitted {
		t.Errorf("resubmit should succeed, got %+v", res)
	}
}

func TestSubmit_BusyGuard(t *testing.T) {
	c := &fakeCollaborator{started: make(chan struct{}), release: make(chan struct{})}
	w, _ := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = w.Submit(context.Background())
	}()
	<-c.started

	if phase, _ := w.Phase(); phase != PhaseSubmitting {
		t.Fatalf("expected submitting, got %v", phase)
	}
	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("submit: expected ErrBusy, got %v", err)
	}
	if _, err := w.Next(); !errors.Is(err, ErrBusy) {
		t.Errorf("next: expected ErrBusy, got %v", err)
	}
	if _, err := w.Previous(); !errors.Is(err, ErrBusy) {
		t.Errorf("previous: expected ErrBusy, got %v", err)
	}
	if err := w.Set("org", "name", String("changed")); !errors.Is(err, ErrBusy) {
		t.Errorf("set: expected ErrBusy, got %v", err)
	}

	close(c.release)
	wg.Wait()
	if c.callCount() != 1 {
		t.Errorf("expected exactly one collaborator call, got %d", c.callCount())
	}
	if rec := w.Snapshot().Record; rec == nil || rec.Sections["org"]["name"].Str != "St. Mary" {
		t.Errorf("edit during submission leaked into record: %+v", rec)
	}
}

func TestAbandon_WhileSubmitting(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &fakeCollaborator{started: make(chan struct{}), release: make(chan struct{})}
	w, n := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan SubmitResult, 1)
	go func() {
		res, _ := w.Submit(ctx)
		done <- res
	}()
	<-c.started

	w.Abandon()
	cancel()
	if phase, _ := w.Phase(); phase != PhaseAbandoned {
		t.Fatalf("expected abandoned, got %v", phase)
	}

	close(c.release)
	select {
	case res := <-done:
		if res.Outcome != OutcomeAbandoned {
			t.Errorf("late outcome should be ignored, got %v", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not return after release")
	}
	if n.count(NoticeSuccess) != 0 {
		t.Error("abandoned session must not show the late success")
	}
	if len(c.accepted) != 1 {
		t.Errorf("external call is not unwound, expected it to complete, got %d", len(c.accepted))
	}
	if _, err := w.Next(); !errors.Is(err, ErrAbandoned) {
		t.Errorf("expected ErrAbandoned, got %v", err)
	}
}

func TestSubmit_DetachedFromCallerCancellation(t *testing.T) {
	var seen error
	c := CollaboratorFunc(func(ctx context.Context, rec Record) error {
		seen = ctx.Err()
		return nil
	})
	w, _ := newTestWizard(t, c)
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := w.Submit(ctx)
	if err != nil || res.Outcome != OutcomeSubmitted {
		t.Fatalf("expected submission despite cancelled caller, got %+v %v", res, err)
	}
	if seen != nil {
		t.Errorf("collaborator saw cancelled context: %v", seen)
	}
}

type countingObserver struct {
	changed, blocked int
	outcomes         []Outcome
}

func (o *countingObserver) StepChanged(int, int)      { o.changed++ }
func (o *countingObserver) StepBlocked(int, []string) { o.blocked++ }
func (o *countingObserver) SubmitFinished(out Outcome, _ time.Duration) {
	o.outcomes = append(o.outcomes, out)
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	w, err := New(testSchema(t), NewPipeline(&fakeCollaborator{}), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Next()
	for i := 1; i <= 3; i++ {
		fillStep(t, w, i)
	}
	_, _ = w.GoTo(3)
	_, _ = w.Submit(context.Background())

	if obs.blocked != 1 || obs.changed != 1 {
		t.Errorf("unexpected counts: blocked=%d changed=%d", obs.blocked, obs.changed)
	}
	if diff := cmp.Diff([]Outcome{OutcomeSubmitted}, obs.outcomes); diff != "" {
		t.Errorf("outcomes (-want +got):\n%s", diff)
	}
}
