package notification

import (
	"github.com/rs/zerolog"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

// LogNotifier mirrors notices into the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Show(kind wizard.NoticeKind, message string) {
	evt := l.logger.Info()
	if kind == wizard.NoticeError {
		evt = l.logger.Warn()
	}
	evt.Str("kind", string(kind)).Str("message", message).Msg("notice shown")
}

func (l *LogNotifier) Dismiss() {
	l.logger.Debug().Msg("notice dismissed")
}

// Fanout forwards every call to each notifier in order.
type Fanout []wizard.Notifier

func (f Fanout) Show(kind wizard.NoticeKind, message string) {
	for _, n := range f {
		n.Show(kind, message)
	}
}

func (f Fanout) Dismiss() {
	for _, n := range f {
		n.Dismiss()
	}
}
