package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/healthvault/registrar/internal/platform/auth"
	"github.com/healthvault/registrar/internal/platform/blobstore"
	"github.com/healthvault/registrar/internal/platform/events"
	"github.com/healthvault/registrar/internal/platform/notification"
	"github.com/healthvault/registrar/internal/platform/session"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

var (
	ErrSessionNotFound = errors.New("registration session not found")
	ErrAccountField    = errors.New("the account section is filled by connecting a wallet")
	ErrReasonRequired  = errors.New("a rejection reason is required")
	ErrNoWallet        = errors.New("wallet verification is not configured")
	ErrUnknownStatus   = errors.New("unknown registration status")
)

const redacted = "********"

// Deps are the collaborators of the registration service.
type Deps struct {
	Repo      Repository
	Sessions  session.Store
	Publisher events.Publisher
	Mailer    *notification.Mailer
	Wallet    *auth.WalletVerifier
	Blobs     blobstore.BlobStore
	Metrics   *Metrics
	Logger    zerolog.Logger
}

// Settings tune session handling.
type Settings struct {
	SubmitTimeout time.Duration
	NoticeTTL     time.Duration
	IdleTTL       time.Duration
	BcryptCost    int
}

// View is what a client sees of one wizard session.
type View struct {
	SessionID string `json:"session_id"`
	wizard.Snapshot
	Notice *notification.Notice `json:"notice,omitempty"`
}

type activeSession struct {
	id     string
	wizard *wizard.Wizard
	banner *notification.Banner

	mu       sync.Mutex
	ctx      session.Context
	lastSeen time.Time
}

func (a *activeSession) touch(now time.Time) {
	a.mu.Lock()
	a.lastSeen = now
	a.mu.Unlock()
}

func (a *activeSession) idleSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

// Service owns the live registration wizards and the review workflow. Each
// session is serialized by its own wizard; the registry lock only guards the
// session map.
type Service struct {
	schema   *wizard.Schema
	pipeline *wizard.Pipeline
	sink     *recordSink
	repo     Repository
	sessions session.Store
	wallet   *auth.WalletVerifier
	blobs    blobstore.BlobStore
	metrics  *Metrics
	logger   zerolog.Logger
	settings Settings
	now      func() time.Time

	mu     sync.RWMutex
	active map[string]*activeSession
}

func NewService(d Deps, s Settings) (*Service, error) {
	if d.Repo == nil || d.Sessions == nil || d.Publisher == nil || d.Mailer == nil {
		return nil, errors.New("registration service requires a repository, session store, publisher and mailer")
	}
	if s.BcryptCost == 0 {
		s.BcryptCost = bcrypt.DefaultCost
	}
	if s.IdleTTL <= 0 {
		s.IdleTTL = 30 * time.Minute
	}

	svc := &Service{
		schema:   HospitalSchema(),
		repo:     d.Repo,
		sessions: d.Sessions,
		wallet:   d.Wallet,
		blobs:    d.Blobs,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "registration").Logger(),
		settings: s,
		now:      time.Now,
		active:   make(map[string]*activeSession),
	}
	svc.sink = newRecordSink(d.Repo, d.Publisher, d.Mailer, svc.logger)
	svc.pipeline = wizard.NewPipeline(svc.sink,
		wizard.WithTimeout(s.SubmitTimeout),
		wizard.WithTransforms(HashPassword(s.BcryptCost), wizard.TrimStrings, CheckContact, CheckBedCapacity),
	)
	return svc, nil
}

// Schema returns the hospital wizard definition.
func (s *Service) Schema() *wizard.Schema { return s.schema }

// Start opens a new wizard session. When contextID names a stored session
// context, it is loaded and its wallet binding pre-fills the account step.
func (s *Service) Start(ctx context.Context, userID, contextID string) (View, error) {
	now := s.now().UTC()
	sc := session.Context{UserID: userID, StartedAt: now}
	if contextID != "" {
		loaded, err := s.sessions.Load(ctx, contextID)
		switch {
		case err == nil:
			sc = loaded
		case errors.Is(err, session.ErrNotFound):
			s.logger.Debug().Str("context_id", contextID).Msg("session context expired, starting fresh")
		default:
			return View{}, fmt.Errorf("load session context: %w", err)
		}
	}
	sc.ID = uuid.New().String()
	sc.LastSeen = now
	if sc.UserID == "" {
		sc.UserID = userID
	}

	draft := wizard.NewDraft(s.schema)
	if sc.WalletConnected() {
		acct := auth.WalletAccount{Address: sc.WalletAddress, Provider: sc.WalletProvider}
		if err := s.fillAccount(draft, acct); err != nil {
			return View{}, fmt.Errorf("prefill wallet account: %w", err)
		}
	}

	banner := notification.NewBanner(s.settings.NoticeTTL)
	notices := notification.Fanout{banner, notification.NewLogNotifier(s.logger.With().Str("session_id", sc.ID).Logger())}
	w, err := wizard.New(s.schema, s.pipeline,
		wizard.WithDraft(draft),
		wizard.WithNotifier(notices),
		wizard.WithObserver(s.metrics),
	)
	if err != nil {
		return View{}, err
	}

	if err := s.sessions.Save(ctx, sc); err != nil {
		return View{}, fmt.Errorf("save session context: %w", err)
	}

	a := &activeSession{id: sc.ID, wizard: w, banner: banner, ctx: sc, lastSeen: now}
	s.mu.Lock()
	s.active[a.id] = a
	s.mu.Unlock()
	s.metrics.sessionStarted()

	s.logger.Info().Str("session_id", a.id).Bool("wallet_prefilled", sc.WalletConnected()).Msg("registration session started")
	return s.view(a), nil
}

type accountSetter interface {
	Set(section, field string, v wizard.Value) error
}

func (s *Service) fillAccount(dst accountSetter, acct auth.WalletAccount) error {
	if err := dst.Set(SectionAccount, FieldWalletAddress, wizard.String(acct.Address)); err != nil {
		return err
	}
	provider := strings.ToLower(strings.TrimSpace(acct.Provider))
	if provider == "" {
		return nil
	}
	if err := dst.Set(SectionAccount, FieldWalletProvider, wizard.String(provider)); err != nil {
		if !errors.Is(err, wizard.ErrTypeMismatch) {
			return err
		}
		s.logger.Warn().Str("provider", acct.Provider).Msg("unknown wallet provider, keeping address only")
	}
	return nil
}

func (s *Service) get(id string) (*activeSession, error) {
	s.mu.RLock()
	a, ok := s.active[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	a.touch(s.now())
	return a, nil
}

func (s *Service) view(a *activeSession) View {
	v := View{SessionID: a.id, Snapshot: a.wizard.Snapshot()}
	v.Sections = redactSections(v.Sections)
	if v.Record != nil {
		rec := *v.Record
		rec.Sections = redactSections(rec.Sections)
		v.Record = &rec
	}
	if n, ok := a.banner.Current(); ok {
		v.Notice = &n
	}
	return v
}

func redactSections(in map[string]wizard.Section) map[string]wizard.Section {
	if in == nil {
		return nil
	}
	out := make(map[string]wizard.Section, len(in))
	for key, sec := range in {
		if key != SectionAdmin {
			out[key] = sec
			continue
		}
		cp := make(wizard.Section, len(sec))
		for name, v := range sec {
			if name == FieldPassword && v.IsSet() {
				v = wizard.String(redacted)
			}
			cp[name] = v
		}
		out[key] = cp
	}
	return out
}

// Snapshot returns the current state of a session.
func (s *Service) Snapshot(_ context.Context, id string) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	return s.view(a), nil
}

// SetField assigns one field. The account section is read-only here.
func (s *Service) SetField(_ context.Context, id, section, field string, v wizard.Value) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if section == SectionAccount {
		return View{}, ErrAccountField
	}
	if err := a.wizard.Set(section, field, v); err != nil {
		return View{}, err
	}
	return s.view(a), nil
}

// AddListEntry appends to a list field.
func (s *Service) AddListEntry(_ context.Context, id, section, field, entry string) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if err := a.wizard.AddToList(section, field, entry); err != nil {
		return View{}, err
	}
	return s.view(a), nil
}

// RemoveListEntry removes the entry at index; an out-of-range index changes
// nothing.
func (s *Service) RemoveListEntry(_ context.Context, id, section, field string, index int) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if err := a.wizard.RemoveFromList(section, field, index); err != nil {
		return View{}, err
	}
	return s.view(a), nil
}

// Next advances one step if the current step is complete.
func (s *Service) Next(_ context.Context, id string) (wizard.StepResult, View, error) {
	return s.navigate(id, func(w *wizard.Wizard) (wizard.StepResult, error) { return w.Next() })
}

// Previous goes back one step.
func (s *Service) Previous(_ context.Context, id string) (wizard.StepResult, View, error) {
	return s.navigate(id, func(w *wizard.Wizard) (wizard.StepResult, error) { return w.Previous() })
}

// GoTo jumps to step k.
func (s *Service) GoTo(_ context.Context, id string, k int) (wizard.StepResult, View, error) {
	return s.navigate(id, func(w *wizard.Wizard) (wizard.StepResult, error) { return w.GoTo(k) })
}

func (s *Service) navigate(id string, move func(*wizard.Wizard) (wizard.StepResult, error)) (wizard.StepResult, View, error) {
	a, err := s.get(id)
	if err != nil {
		return wizard.StepResult{}, View{}, err
	}
	res, err := move(a.wizard)
	if err != nil {
		return wizard.StepResult{}, View{}, err
	}
	return res, s.view(a), nil
}

// Submit hands the completed draft to the pipeline. On success the session
// context records the registration reference.
func (s *Service) Submit(ctx context.Context, id string) (wizard.SubmitResult, View, error) {
	a, err := s.get(id)
	if err != nil {
		return wizard.SubmitResult{}, View{}, err
	}
	res, err := a.wizard.Submit(ctx)
	if err != nil {
		return res, View{}, err
	}

	log := s.logger.With().Str("session_id", id).Str("outcome", string(res.Outcome)).Logger()
	switch res.Outcome {
	case wizard.OutcomeSubmitted:
		log.Info().Str("registration_id", res.Record.ID).Dur("elapsed", res.Elapsed).Msg("registration submitted")
		s.saveContext(ctx, a, func(sc *session.Context) {
			setFlag(sc, "registration_id", res.Record.ID)
			setFlag(sc, "last_outcome", string(res.Outcome))
		})
	case wizard.OutcomeFailed:
		log.Warn().Err(res.Failure).Bool("retryable", res.Failure.Retryable()).Msg("registration submission failed")
	}

	v := s.view(a)
	if res.Record != nil {
		res.Record = v.Record
	}
	return res, v, nil
}

// AttachAccount verifies a wallet-bridge proof and stores the returned
// address verbatim in the account step.
func (s *Service) AttachAccount(ctx context.Context, id, proof string) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	if s.wallet == nil {
		return View{}, ErrNoWallet
	}
	acct, err := s.wallet.Verify(ctx, id, proof)
	if err != nil {
		return View{}, err
	}
	if err := s.fillAccount(a.wizard, acct); err != nil {
		return View{}, err
	}
	s.saveContext(ctx, a, func(sc *session.Context) {
		sc.WalletAddress = acct.Address
		sc.WalletProvider = acct.Provider
	})
	s.logger.Info().Str("session_id", id).Str("provider", acct.Provider).Msg("wallet account attached")
	return s.view(a), nil
}

// UploadDocument stores a supporting document and lists its blob id in the
// documents step.
func (s *Service) UploadDocument(ctx context.Context, id, category, fileName, contentType string, content io.Reader) (*blobstore.BlobMetadata, View, error) {
	a, err := s.get(id)
	if err != nil {
		return nil, View{}, err
	}
	if s.blobs == nil {
		return nil, View{}, errors.New("document storage is not configured")
	}
	field := FieldLicenses
	if category == blobstore.CategoryAccreditation {
		field = FieldAccreditations
	}
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		Owner:       id,
		Category:    category,
	}, content)
	if err != nil {
		return nil, View{}, err
	}
	if err := a.wizard.AddToList(SectionDocuments, field, meta.ID); err != nil {
		if delErr := s.blobs.Delete(ctx, meta.ID); delErr != nil {
			s.logger.Warn().Err(delErr).Str("blob_id", meta.ID).Msg("failed to remove orphaned document")
		}
		return nil, View{}, err
	}
	return meta, s.view(a), nil
}

// Documents lists the documents uploaded in a session.
func (s *Service) Documents(ctx context.Context, id string) ([]*blobstore.BlobMetadata, error) {
	if _, err := s.get(id); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, nil
	}
	return s.blobs.ListByOwner(ctx, id)
}

// DismissNotice clears the session's banner.
func (s *Service) DismissNotice(_ context.Context, id string) (View, error) {
	a, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	a.wizard.Dismiss()
	return s.view(a), nil
}

// Abandon discards a session. An in-flight submission keeps running but its
// result is ignored.
func (s *Service) Abandon(ctx context.Context, id string) error {
	s.mu.Lock()
	a, ok := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.end(ctx, a, "abandoned")
	return nil
}

func (s *Service) end(ctx context.Context, a *activeSession, reason string) {
	phase, step := a.wizard.Phase()
	a.wizard.Abandon()
	s.metrics.sessionEnded()
	if phase != wizard.PhaseSubmitted {
		s.saveContext(ctx, a, func(sc *session.Context) { setFlag(sc, "last_outcome", "abandoned") })
	}
	s.logger.Info().Str("session_id", a.id).Str("reason", reason).Stringer("phase", phase).Int("step", step).Msg("registration session closed")
}

func (s *Service) saveContext(ctx context.Context, a *activeSession, mutate func(*session.Context)) {
	a.mu.Lock()
	mutate(&a.ctx)
	a.ctx.LastSeen = s.now().UTC()
	sc := a.ctx
	a.mu.Unlock()
	if err := s.sessions.Save(ctx, sc); err != nil {
		s.logger.Warn().Err(err).Str("session_id", a.id).Msg("failed to save session context")
	}
}

func setFlag(sc *session.Context, key, value string) {
	if sc.Flags == nil {
		sc.Flags = make(map[string]string)
	}
	sc.Flags[key] = value
}

// ActiveSessions returns the ids of live sessions.
func (s *Service) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep closes sessions idle for longer than the idle TTL and reports how
// many were closed.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.settings.IdleTTL)
	var expired []*activeSession
	s.mu.Lock()
	for id, a := range s.active {
		if a.idleSince().Before(cutoff) {
			expired = append(expired, a)
			delete(s.active, id)
		}
	}
	s.mu.Unlock()
	for _, a := range expired {
		s.end(ctx, a, "idle")
	}
	return len(expired)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Debug().Int("closed", n).Msg("idle registration sessions swept")
			}
		}
	}
}

// -- Review --

// ListRegistrations returns registrations filtered by status.
func (s *Service) ListRegistrations(ctx context.Context, status Status, limit, offset int) ([]*HospitalRegistration, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) GetRegistration(ctx context.Context, id uuid.UUID) (*HospitalRegistration, error) {
	return s.repo.GetByID(ctx, id)
}

// Approve accepts a pending registration.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer string) (*HospitalRegistration, error) {
	reg, err := s.repo.Review(ctx, id, Review{Status: StatusApproved, ReviewedBy: reviewer, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	s.metrics.reviewed(StatusApproved)
	s.sink.announce(ctx, reg, events.TypeRegistrationApproved, notification.TemplateRegistrationApproved, "")
	return reg, nil
}

// Reject declines a pending registration with a reason for the applicant.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reviewer, reason string) (*HospitalRegistration, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	reg, err := s.repo.Review(ctx, id, Review{Status: StatusRejected, ReviewedBy: reviewer, Note: &reason, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	s.metrics.reviewed(StatusRejected)
	s.sink.announce(ctx, reg, events.TypeRegistrationRejected, notification.TemplateRegistrationRejected, reason)
	return reg, nil
}

// Outbox lists the emails sent to a registration's administrator.
func (s *Service) Outbox(ctx context.Context, id uuid.UUID) ([]notification.Message, error) {
	reg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sink.mailer.Messages(reg.AdminEmail), nil
}

// RetryMessage re-sends a failed email. The message must belong to the
// registration's administrator.
func (s *Service) RetryMessage(ctx context.Context, id uuid.UUID, messageID string) error {
	msgs, err := s.Outbox(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return s.sink.mailer.Retry(ctx, messageID)
		}
	}
	return notification.ErrMessageNotFound
}
