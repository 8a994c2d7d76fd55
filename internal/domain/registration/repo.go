package registration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("registration not found")
	ErrDuplicate  = errors.New("a registration with this registration number already exists")
	ErrNotPending = errors.New("registration has already been reviewed")
)

// Review is a status decision on a pending registration.
type Review struct {
	Status     Status
	ReviewedBy string
	Note       *string
	At         time.Time
}

// Repository defines the persistence interface for hospital registrations.
type Repository interface {
	Create(ctx context.Context, reg *HospitalRegistration) error
	GetByID(ctx context.Context, id uuid.UUID) (*HospitalRegistration, error)
	// List returns registrations newest first. An empty status lists all.
	List(ctx context.Context, status Status, limit, offset int) ([]*HospitalRegistration, int, error)
	// Review moves a pending registration to the decided status. It fails
	// with ErrNotPending when the registration was already reviewed.
	Review(ctx context.Context, id uuid.UUID, r Review) (*HospitalRegistration, error)
}
