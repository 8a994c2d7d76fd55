package beneficiary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthvault/registrar/internal/platform/events"
	"github.com/healthvault/registrar/internal/platform/wizard"
)

var (
	ErrGuardianNotFound = errors.New("guardian_id does not name a guardian")
	ErrKindChange       = errors.New("a beneficiary cannot change kind")
	ErrHasDependents    = errors.New("guardian still has dependents")
)

type Service struct {
	repo      Repository
	forms     Forms
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, forms Forms, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		forms:     forms,
		publisher: pub,
		logger:    logger.With().Str("component", "beneficiary").Logger(),
		now:       time.Now,
	}
}

// Forms returns the compiled form definitions.
func (s *Service) Forms() Forms { return s.forms }

// prepare validates the submitted fields and builds the variant. A missing
// required field is returned as *wizard.ValidationError.
func (s *Service) prepare(ctx context.Context, kind Kind, fields map[string]wizard.Value) (Beneficiary, error) {
	draft, err := s.forms.Fill(kind, fields)
	if err != nil {
		return nil, err
	}
	if verr := Check(draft); verr != nil {
		return nil, verr
	}
	b, err := build(kind, draft, s.now())
	if err != nil {
		return nil, err
	}
	if d, ok := b.(*Dependent); ok {
		if err := s.requireGuardian(ctx, d.GuardianID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *Service) requireGuardian(ctx context.Context, id uuid.UUID) error {
	g, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrGuardianNotFound
	}
	if err != nil {
		return err
	}
	if g.Kind() != KindGuardian {
		return ErrGuardianNotFound
	}
	return nil
}

// Create validates and stores a new beneficiary.
func (s *Service) Create(ctx context.Context, kind Kind, fields map[string]wizard.Value, createdBy string) (Beneficiary, error) {
	b, err := s.prepare(ctx, kind, fields)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	m := b.meta()
	m.ID = uuid.New()
	m.CreatedBy = createdBy
	m.CreatedAt = now
	m.UpdatedAt = now
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	ev, err := events.New(events.TypeBeneficiaryCreated, m.ID.String(), Envelope{Value: b})
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("beneficiary_id", m.ID.String()).Msg("failed to publish beneficiary event")
	}
	return b, nil
}

// Update replaces the fields of an existing beneficiary of the same kind.
func (s *Service) Update(ctx context.Context, id uuid.UUID, kind Kind, fields map[string]wizard.Value) (Beneficiary, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Kind() != kind {
		return nil, ErrKindChange
	}
	b, err := s.prepare(ctx, kind, fields)
	if err != nil {
		return nil, err
	}
	m, old := b.meta(), existing.meta()
	m.ID = old.ID
	m.CreatedBy = old.CreatedBy
	m.CreatedAt = old.CreatedAt
	m.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Beneficiary, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, kind Kind) ([]Beneficiary, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s.repo.List(ctx, kind)
}

// Delete removes a beneficiary. Guardians with dependents cannot be removed.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	isGuardian := Match(b, Cases[bool]{
		Worker:    func(*Worker) bool { return false },
		Guardian:  func(*Guardian) bool { return true },
		Dependent: func(*Dependent) bool { return false },
	})
	if isGuardian {
		deps, err := s.repo.DependentsOf(ctx, id)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			return ErrHasDependents
		}
	}
	return s.repo.Delete(ctx, id)
}

// Dependents lists the dependents of a guardian.
func (s *Service) Dependents(ctx context.Context, guardianID uuid.UUID) ([]*Dependent, error) {
	if err := s.requireGuardian(ctx, guardianID); err != nil {
		return nil, err
	}
	return s.repo.DependentsOf(ctx, guardianID)
}
