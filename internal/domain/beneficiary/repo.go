package beneficiary

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("beneficiary not found")

// Repository defines the persistence interface for beneficiaries.
type Repository interface {
	Create(ctx context.Context, b Beneficiary) error
	GetByID(ctx context.Context, id uuid.UUID) (Beneficiary, error)
	Update(ctx context.Context, b Beneficiary) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns beneficiaries of kind, or of every kind when kind is empty,
	// oldest first.
	List(ctx context.Context, kind Kind) ([]Beneficiary, error)
	// DependentsOf returns the dependents enrolled through a guardian.
	DependentsOf(ctx context.Context, guardianID uuid.UUID) ([]*Dependent, error)
}

type memoryRepo struct {
	mu    sync.RWMutex
	store map[uuid.UUID]Beneficiary
}

func NewMemoryRepo() Repository {
	return &memoryRepo{store: make(map[uuid.UUID]Beneficiary)}
}

func (r *memoryRepo) Create(_ context.Context, b Beneficiary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := b.meta()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.store[m.ID] = clone(b)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(b), nil
}

func (r *memoryRepo) Update(_ context.Context, b Beneficiary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ID(b)
	if _, ok := r.store[id]; !ok {
		return ErrNotFound
	}
	r.store[id] = clone(b)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[id]; !ok {
		return ErrNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *memoryRepo) List(_ context.Context, kind Kind) ([]Beneficiary, error) {
	r.mu.RLock()
	out := make([]Beneficiary, 0, len(r.store))
	for _, b := range r.store {
		if kind == "" || b.Kind() == kind {
			out = append(out, clone(b))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].meta(), out[j].meta()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID.String() < b.ID.String()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (r *memoryRepo) DependentsOf(ctx context.Context, guardianID uuid.UUID) ([]*Dependent, error) {
	all, err := r.List(ctx, KindDependent)
	if err != nil {
		return nil, err
	}
	var out []*Dependent
	for _, b := range all {
		if d, ok := b.(*Dependent); ok && d.GuardianID == guardianID {
			out = append(out, d)
		}
	}
	return out, nil
}
