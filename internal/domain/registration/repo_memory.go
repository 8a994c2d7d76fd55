package registration

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryRepo struct {
	mu    sync.RWMutex
	store map[uuid.UUID]*HospitalRegistration
}

// NewMemoryRepo returns a Repository kept in process memory. It is used when
// no database is configured.
func NewMemoryRepo() Repository {
	return &memoryRepo{store: make(map[uuid.UUID]*HospitalRegistration)}
}

func (r *memoryRepo) Create(_ context.Context, reg *HospitalRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	for _, existing := range r.store {
		if existing.RegistrationNumber == reg.RegistrationNumber {
			return ErrDuplicate
		}
	}
	cp := *reg
	r.store[reg.ID] = &cp
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*HospitalRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (r *memoryRepo) List(_ context.Context, status Status, limit, offset int) ([]*HospitalRegistration, int, error) {
	r.mu.RLock()
	var all []*HospitalRegistration
	for _, reg := range r.store {
		if status == "" || reg.Status == status {
			cp := *reg
			all = append(all, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memoryRepo) Review(_ context.Context, id uuid.UUID, rv Review) (*HospitalRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if reg.Status != StatusPending {
		return nil, ErrNotPending
	}
	at := rv.At
	reviewer := rv.ReviewedBy
	reg.Status = rv.Status
	reg.ReviewedBy = &reviewer
	reg.ReviewNote = rv.Note
	reg.ReviewedAt = &at
	reg.UpdatedAt = at
	cp := *reg
	return &cp, nil
}
