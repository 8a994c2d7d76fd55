package registration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthvault/registrar/internal/platform/events"
	"github.com/healthvault/registrar/internal/platform/notification"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

const (
	minPasswordLength = 8
	maxBedCapacity    = 100000
)

var (
	ErrWeakPassword = fmt.Errorf("admin password must be at least %d characters", minPasswordLength)
	ErrInvalidEmail = errors.New("admin email is not a valid address")
	ErrBedCapacity  = fmt.Errorf("bed capacity must be a whole number between 0 and %d", maxBedCapacity)
)

// HashPassword replaces the plaintext admin password in the record with its
// bcrypt hash, so nothing downstream of the pipeline ever sees the
// plaintext.
func HashPassword(cost int) wizard.Transform {
	return func(rec *wizard.Record) error {
		adm := rec.Sections[SectionAdmin]
		if adm == nil {
			return nil
		}
		plain := adm[FieldPassword].Text()
		if len(strings.TrimSpace(plain)) < minPasswordLength {
			return ErrWeakPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		adm[FieldPassword] = wizard.String(string(hash))
		return nil
	}
}

// CheckContact rejects records whose admin email does not parse.
func CheckContact(rec *wizard.Record) error {
	email := rec.Sections[SectionAdmin]["email"].Text()
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return ErrInvalidEmail
	}
	return nil
}

// CheckBedCapacity rejects fractional, negative or implausibly large bed
// counts. The field is optional.
func CheckBedCapacity(rec *wizard.Record) error {
	v := rec.Sections[SectionOrg][FieldBedCapacity]
	if !v.IsSet() {
		return nil
	}
	if v.Num != math.Trunc(v.Num) || v.Num < 0 || v.Num > maxBedCapacity {
		return ErrBedCapacity
	}
	return nil
}

// recordSink is the collaborator behind the hospital wizard: it stores the
// registration, then announces it. Announcement failures are logged and do
// not fail the submission since the registration is already stored.
type recordSink struct {
	repo      Repository
	publisher events.Publisher
	mailer    *notification.Mailer
	logger    zerolog.Logger
}

func newRecordSink(repo Repository, pub events.Publisher, mailer *notification.Mailer, logger zerolog.Logger) *recordSink {
	return &recordSink{repo: repo, publisher: pub, mailer: mailer, logger: logger}
}

func (s *recordSink) Accept(ctx context.Context, rec wizard.Record) error {
	reg, err := FromRecord(rec)
	if err != nil {
		return wizard.Permanent(err)
	}
	if _, err := bcrypt.Cost([]byte(reg.PasswordHash)); err != nil {
		return wizard.Permanent(errors.New("admin password was not hashed"))
	}
	if err := s.repo.Create(ctx, reg); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return wizard.Permanent(err)
		}
		return wizard.Transient(fmt.Errorf("store registration: %w", err))
	}

	s.announce(ctx, reg, events.TypeRegistrationSubmitted, notification.TemplateRegistrationReceived, "")
	return nil
}

// announce publishes the lifecycle event and emails the administrator.
func (s *recordSink) announce(ctx context.Context, reg *HospitalRegistration, eventType, templateID, reason string) {
	log := s.logger.With().Str("registration_id", reg.ID.String()).Str("event", eventType).Logger()

	ev, err := events.New(eventType, reg.ID.String(), eventPayload{
		ID:                 reg.ID.String(),
		Name:               reg.Name,
		FacilityType:       reg.FacilityType,
		RegistrationNumber: reg.RegistrationNumber,
		Status:             reg.Status,
		WalletAddress:      reg.WalletAddress,
		Reason:             reason,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to publish registration event")
	}

	data := map[string]string{
		"hospital_name": reg.Name,
		"admin_name":    reg.AdminName,
		"reference":     reg.ID.String(),
		"date":          reg.CreatedAt.Format(time.DateOnly),
		"reason":        reason,
	}
	if _, err := s.mailer.Send(ctx, templateID, data, reg.AdminEmail); err != nil {
		log.Warn().Err(err).Str("recipient", reg.AdminEmail).Msg("failed to email administrator")
	}
}

type eventPayload struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	FacilityType       string `json:"facility_type"`
	RegistrationNumber string `json:"registration_number"`
	Status             Status `json:"status"`
	WalletAddress      string `json:"wallet_address"`
	Reason             string `json:"reason,omitempty"`
}
