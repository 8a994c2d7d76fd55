package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Built-in email templates.
const (
	TemplateRegistrationReceived = "registration-received"
	TemplateRegistrationApproved = "registration-approved"
	TemplateRegistrationRejected = "registration-rejected"
)

var ErrMessageNotFound = errors.New("message not found")

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a {{key}} placeholder email template.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the registration templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateRegistrationReceived,
			Subject: "We received the registration for {{hospital_name}}",
			Body: "Dear {{admin_name}}, the registration of {{hospital_name}} was received on {{date}} " +
				"under reference {{reference}}. We will let you know once it has been reviewed.",
		},
		{
			ID:      TemplateRegistrationApproved,
			Subject: "{{hospital_name}} is now registered",
			Body:    "Dear {{admin_name}}, the registration {{reference}} of {{hospital_name}} has been approved.",
		},
		{
			ID:      TemplateRegistrationRejected,
			Subject: "Registration {{reference}} needs attention",
			Body:    "Dear {{admin_name}}, the registration of {{hospital_name}} was not approved: {{reason}}",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Message is one outbound email and its delivery state.
type Message struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Mailer renders templates, sends them and keeps an outbox so failed
// deliveries can be retried.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
	mu        sync.RWMutex
	outbox    map[string]*Message
}

func NewMailer(sender EmailSender, tpl *TemplateEngine) *Mailer {
	return &Mailer{sender: sender, templates: tpl, outbox: make(map[string]*Message)}
}

// Send renders templateID and delivers it. The message is kept in the outbox
// even when delivery fails.
func (m *Mailer) Send(ctx context.Context, templateID string, data map[string]string, recipient string) (*Message, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	msg := &Message{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
	err = m.deliver(ctx, msg)

	m.mu.Lock()
	m.outbox[msg.ID] = msg
	m.mu.Unlock()
	return msg, err
}

func (m *Mailer) deliver(ctx context.Context, msg *Message) error {
	msg.Attempts++
	if err := m.sender.SendEmail(ctx, msg.Recipient, msg.Subject, msg.Body); err != nil {
		msg.Status = "failed"
		msg.Error = err.Error()
		return err
	}
	now := time.Now().UTC()
	msg.Status = "sent"
	msg.Error = ""
	msg.SentAt = &now
	return nil
}

// Retry re-sends a failed message.
func (m *Mailer) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbox[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Status == "sent" {
		return nil
	}
	return m.deliver(ctx, msg)
}

// Messages lists the outbox for a recipient, newest first.
func (m *Mailer) Messages(recipient string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Message
	for _, msg := range m.outbox {
		if msg.Recipient == recipient {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// LogEmailSender writes emails to the log instead of an SMTP relay.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Int("body_bytes", len(body)).Msg("email sent")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// RecordingEmailSender captures emails in memory. Err, when set, is returned
// from every call.
type RecordingEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	Err   error
}

func (r *RecordingEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, EmailCall{To: to, Subject: subject, Body: body})
	return r.Err
}

func (r *RecordingEmailSender) Calls() []EmailCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EmailCall(nil), r.calls...)
}
