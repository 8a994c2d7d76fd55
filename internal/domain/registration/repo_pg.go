package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type pgRepo struct {
	pool *pgxpool.Pool
}

// NewPGRepo returns a Repository backed by the hospital_registration table.
func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const regColumns = `id, status, name, facility_type, registration_number, specialties,
	bed_capacity, website, address_line1, address_line2, city, state, postal_code, country,
	admin_name, admin_email, admin_phone, admin_designation, password_hash,
	licenses, accreditations, wallet_address, wallet_provider,
	reviewed_by, review_note, reviewed_at, created_at, updated_at`

func (r *pgRepo) Create(ctx context.Context, reg *HospitalRegistration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hospital_registration (
			id, status, name, facility_type, registration_number, specialties,
			bed_capacity, website, address_line1, address_line2, city, state, postal_code, country,
			admin_name, admin_email, admin_phone, admin_designation, password_hash,
			licenses, accreditations, wallet_address, wallet_provider,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23,
			$24, $25
		)`,
		reg.ID, reg.Status, reg.Name, reg.FacilityType, reg.RegistrationNumber, reg.Specialties,
		reg.BedCapacity, reg.Website, reg.AddressLine1, reg.AddressLine2, reg.City, reg.State, reg.PostalCode, reg.Country,
		reg.AdminName, reg.AdminEmail, reg.AdminPhone, reg.AdminDesignation, reg.PasswordHash,
		reg.Licenses, reg.Accreditations, reg.WalletAddress, reg.WalletProvider,
		reg.CreatedAt, reg.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (r *pgRepo) GetByID(ctx context.Context, id uuid.UUID) (*HospitalRegistration, error) {
	return getByID(ctx, r.pool, id)
}

func getByID(ctx context.Context, q queryable, id uuid.UUID) (*HospitalRegistration, error) {
	reg, err := scanRegistration(q.QueryRow(ctx,
		`SELECT `+regColumns+` FROM hospital_registration WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

func (r *pgRepo) List(ctx context.Context, status Status, limit, offset int) ([]*HospitalRegistration, int, error) {
	query := `SELECT ` + regColumns + ` FROM hospital_registration WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM hospital_registration WHERE 1=1`
	var args []interface{}
	idx := 1

	if status != "" {
		clause := fmt.Sprintf(` AND status = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, status)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var regs []*HospitalRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, err
		}
		regs = append(regs, reg)
	}
	return regs, total, rows.Err()
}

// Review updates a pending registration. The update and the follow-up
// lookup that tells a missing row from a reviewed one share a transaction.
func (r *pgRepo) Review(ctx context.Context, id uuid.UUID, rv Review) (*HospitalRegistration, error) {
	var reg *HospitalRegistration
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		reg, err = reviewPending(ctx, tx, id, rv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func reviewPending(ctx context.Context, q queryable, id uuid.UUID, rv Review) (*HospitalRegistration, error) {
	reg, err := scanRegistration(q.QueryRow(ctx, `
		UPDATE hospital_registration SET
			status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+regColumns,
		id, rv.Status, rv.ReviewedBy, rv.Note, rv.At,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := getByID(ctx, q, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrNotPending
	}
	return reg, err
}

func scanRegistration(row pgx.Row) (*HospitalRegistration, error) {
	var h HospitalRegistration
	err := row.Scan(
		&h.ID, &h.Status, &h.Name, &h.FacilityType, &h.RegistrationNumber, &h.Specialties,
		&h.BedCapacity, &h.Website, &h.AddressLine1, &h.AddressLine2, &h.City, &h.State, &h.PostalCode, &h.Country,
		&h.AdminName, &h.AdminEmail, &h.AdminPhone, &h.AdminDesignation, &h.PasswordHash,
		&h.Licenses, &h.Accreditations, &h.WalletAddress, &h.WalletProvider,
		&h.ReviewedBy, &h.ReviewNote, &h.ReviewedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
