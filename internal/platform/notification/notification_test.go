package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

func TestBanner_ReplaceAndDismiss(t *testing.T) {
	b := NewBanner(0)
	if _, ok := b.Current(); ok {
		t.Fatal("new banner should be empty")
	}
	b.Show(wizard.NoticeError, "first")
	b.Show(wizard.NoticeSuccess, "second")
	n, ok := b.Current()
	if !ok || n.Message != "second" || n.Kind != wizard.NoticeSuccess {
		t.Errorf("show must replace the current notice, got %+v", n)
	}
	b.Dismiss()
	if _, ok := b.Current(); ok {
		t.Error("dismiss should clear the notice")
	}
}

func TestBanner_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewBanner(5 * time.Second)
	b.now = func() time.Time { return now }
	b.Show(wizard.NoticeInfo, "saved")

	now = now.Add(4 * time.Second)
	if _, ok := b.Current(); !ok {
		t.Fatal("notice should still be visible")
	}
	now = now.Add(time.Second)
	if _, ok := b.Current(); ok {
		t.Error("notice should have expired")
	}
}

func TestFanout(t *testing.T) {
	a, b := NewBanner(0), NewBanner(0)
	var buf bytes.Buffer
	f := Fanout{a, b, NewLogNotifier(zerolog.New(&buf))}
	f.Show(wizard.NoticeError, "missing name")
	for _, banner := range []*Banner{a, b} {
		if n, ok := banner.Current(); !ok || n.Message != "missing name" {
			t.Errorf("expected notice on every banner, got %+v", n)
		}
	}
	if !strings.Contains(buf.String(), "missing name") {
		t.Errorf("expected log line, got %q", buf.String())
	}
	f.Dismiss()
	if _, ok := a.Current(); ok {
		t.Error("dismiss should fan out")
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateRegistrationApproved, map[string]string{
		"hospital_name": "St. Mary",
		"admin_name":    "Ada",
		"reference":     "REF-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "St. Mary is now registered" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "REF-1") {
		t.Errorf("body missing reference: %q", body)
	}
	if _, _, err := e.Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestMailer_SendAndRetry(t *testing.T) {
	sender := &RecordingEmailSender{Err: errors.New("smtp down")}
	m := NewMailer(sender, NewTemplateEngine())

	msg, err := m.Send(context.Background(), TemplateRegistrationReceived, map[string]string{"hospital_name": "St. Mary"}, "ada@example.org")
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if msg.Status != "failed" {
		t.Errorf("expected failed status, got %q", msg.Status)
	}

	sender.Err = nil
	if err := m.Retry(context.Background(), msg.ID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	out := m.Messages("ada@example.org")
	if len(out) != 1 || out[0].Status != "sent" || out[0].Attempts != 2 {
		t.Errorf("unexpected outbox %+v", out)
	}
	if len(sender.Calls()) != 2 {
		t.Errorf("expected two delivery attempts, got %d", len(sender.Calls()))
	}
	if err := m.Retry(context.Background(), "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}
