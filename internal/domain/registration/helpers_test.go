package registration

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/blobstore"
	"github.com/healthvault/registrar/internal/platform/events"
	"github.com/healthvault/registrar/internal/platform/notification"
	"github.com/healthvault/registrar/internal/platform/session"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

const testPassword = "correct-horse-battery"

type fixture struct {
	svc      *Service
	repo     Repository
	sessions *session.MemoryStore
	events   *events.Recorder
	email    *notification.RecordingEmailSender
	wallet   *auth.WalletVerifier
	blobs    *blobstore.InMemoryBlobStore
	metrics  *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     NewMemoryRepo(),
		sessions: session.NewMemoryStore(time.Hour),
		events:   &events.Recorder{},
		email:    &notification.RecordingEmailSender{},
		wallet:   auth.NewWalletVerifier([]byte("wallet-test-key"), "wallet-bridge"),
		blobs:    blobstore.NewInMemoryBlobStore(1 << 20),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	svc, err := NewService(Deps{
		Repo:      f.repo,
		Sessions:  f.sessions,
		Publisher: f.events,
		Mailer:    notification.NewMailer(f.email, notification.NewTemplateEngine()),
		Wallet:    f.wallet,
		Blobs:     f.blobs,
		Metrics:   f.metrics,
		Logger:    zerolog.Nop(),
	}, Settings{SubmitTimeout: 5 * time.Second, IdleTTL: 10 * time.Minute, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	v, err := f.svc.Start(context.Background(), "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return v.SessionID
}

func (f *fixture) proof(t *testing.T, sessionID, address string) string {
	t.Helper()
	p, err := f.wallet.SignProof(auth.WalletClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		Address:          address,
		Provider:         "Pera",
		Session:          sessionID,
	})
	if err != nil {
		t.Fatalf("sign proof: %v", err)
	}
	return p
}

type fieldValue struct {
	section, field string
	value          wizard.Value
}

func hospitalFields(regNumber string) []fieldValue {
	return []fieldValue{
		{SectionOrg, "name", wizard.String("St. Mary's General")},
		{SectionOrg, "facility_type", wizard.String("hospital")},
		{SectionOrg, "registration_number", wizard.String(regNumber)},
		{SectionOrg, "specialties", wizard.List("Cardiology", "Oncology")},
		{SectionOrg, "bed_capacity", wizard.Number(240)},
		{SectionAddress, "line1", wizard.String("12 Harbour Road")},
		{SectionAddress, "city", wizard.String("Kochi")},
		{SectionAddress, "state", wizard.String("Kerala")},
		{SectionAddress, "postal_code", wizard.String("682001")},
		{SectionAddress, "country", wizard.String("IN")},
		{SectionAdmin, "full_name", wizard.String("Asha Menon")},
		{SectionAdmin, "email", wizard.String("Admin@StMarys.example")},
		{SectionAdmin, "phone", wizard.String("+91 484 000 0000")},
		{SectionAdmin, FieldPassword, wizard.String(testPassword)},
		{SectionDocuments, FieldLicenses, wizard.List("LIC-2024-001")},
	}
}

// walkToAccount fills steps 1..4 and advances to the account step.
func (f *fixture) walkToAccount(t *testing.T, id, regNumber string) {
	t.Helper()
	ctx := context.Background()
	for _, fv := range hospitalFields(regNumber) {
		if _, err := f.svc.SetField(ctx, id, fv.section, fv.field, fv.value); err != nil {
			t.Fatalf("set %s.%s: %v", fv.section, fv.field, err)
		}
	}
	for i := 0; i < 4; i++ {
		res, _, err := f.svc.Next(ctx, id)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !res.Moved {
			t.Fatalf("step %d did not advance: %+v", res.From, res.Validation)
		}
	}
}

// submitted drives a full session and returns the stored registration.
func (f *fixture) submitted(t *testing.T, regNumber string) *HospitalRegistration {
	t.Helper()
	ctx := context.Background()
	id := f.start(t)
	f.walkToAccount(t, id, regNumber)
	if _, err := f.svc.AttachAccount(ctx, id, f.proof(t, id, "ALGO-"+regNumber)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	res, _, err := f.svc.Submit(ctx, id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != wizard.OutcomeSubmitted {
		t.Fatalf("expected submitted, got %s (%v)", res.Outcome, res.Failure)
	}
	reg, err := f.repo.GetByID(ctx, mustUUID(t, res.Record.ID))
	if err != nil {
		t.Fatalf("stored registration: %v", err)
	}
	return reg
}
