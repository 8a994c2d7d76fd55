package wizard

import "time"

// NoticeKind is the flavour of a user-facing notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
)

// Notifier displays transient messages. Show replaces whatever is currently
// shown.
type Notifier interface {
	Show(kind NoticeKind, message string)
	Dismiss()
}

// Observer receives controller events, typically for metrics.
type Observer interface {
	StepChanged(from, to int)
	StepBlocked(step int, missing []string)
	SubmitFinished(outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StepChanged(int, int)                   {}
func (nopObserver) StepBlocked(int, []string)              {}
func (nopObserver) SubmitFinished(Outcome, time.Duration) {}
