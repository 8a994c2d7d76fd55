// Package notification delivers user-facing notices from wizard sessions
// and the transactional emails sent around a registration.
package notification

import (
	"sync"
	"time"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

// Notice is a single message on a banner.
type Notice struct {
	Kind      wizard.NoticeKind `json:"kind"`
	Message   string            `json:"message"`
	ShownAt   time.Time         `json:"shown_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// Banner holds at most one notice. Show replaces the current notice; with a
// positive ttl the notice expires on its own.
type Banner struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	current *Notice
}

func NewBanner(ttl time.Duration) *Banner {
	return &Banner{ttl: ttl, now: time.Now}
}

func (b *Banner) Show(kind wizard.NoticeKind, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &Notice{Kind: kind, Message: message, ShownAt: b.now().UTC()}
	if b.ttl > 0 {
		exp := n.ShownAt.Add(b.ttl)
		n.ExpiresAt = &exp
	}
	b.current = n
}

func (b *Banner) Dismiss() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
}

// Current returns the visible notice, if any.
func (b *Banner) Current() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Notice{}, false
	}
	if b.current.ExpiresAt != nil && !b.now().Before(*b.current.ExpiresAt) {
		b.current = nil
		return Notice{}, false
	}
	return *b.current, true
}
