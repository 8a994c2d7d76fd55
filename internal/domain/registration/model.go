package registration

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

// Status is the review state of a hospital registration.
type Status string

const (
	StatusPending  Status = Status(wizard.StatusPending)
	StatusApproved Status = Status(wizard.StatusApproved)
	StatusRejected Status = Status(wizard.StatusRejected)
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// HospitalRegistration maps to the hospital_registration table.
type HospitalRegistration struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Status             Status     `db:"status" json:"status"`
	Name               string     `db:"name" json:"name"`
	FacilityType       string     `db:"facility_type" json:"facility_type"`
	RegistrationNumber string     `db:"registration_number" json:"registration_number"`
	Specialties        []string   `db:"specialties" json:"specialties"`
	BedCapacity        *int       `db:"bed_capacity" json:"bed_capacity,omitempty"`
	Website            *string    `db:"website" json:"website,omitempty"`
	AddressLine1       string     `db:"address_line1" json:"address_line1"`
	AddressLine2       *string    `db:"address_line2" json:"address_line2,omitempty"`
	City               string     `db:"city" json:"city"`
	State              string     `db:"state" json:"state"`
	PostalCode         string     `db:"postal_code" json:"postal_code"`
	Country            string     `db:"country" json:"country"`
	AdminName          string     `db:"admin_name" json:"admin_name"`
	AdminEmail         string     `db:"admin_email" json:"admin_email"`
	AdminPhone         string     `db:"admin_phone" json:"admin_phone"`
	AdminDesignation   *string    `db:"admin_designation" json:"admin_designation,omitempty"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	Licenses           []string   `db:"licenses" json:"licenses"`
	Accreditations     []string   `db:"accreditations" json:"accreditations"`
	WalletAddress      string     `db:"wallet_address" json:"wallet_address"`
	WalletProvider     *string    `db:"wallet_provider" json:"wallet_provider,omitempty"`
	ReviewedBy         *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNote         *string    `db:"review_note" json:"review_note,omitempty"`
	ReviewedAt         *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// FromRecord maps a submitted wizard record onto the persisted model. The
// admin password is expected to be hashed already.
func FromRecord(rec wizard.Record) (*HospitalRegistration, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("record id %q: %w", rec.ID, err)
	}
	org := rec.Sections[SectionOrg]
	addr := rec.Sections[SectionAddress]
	adm := rec.Sections[SectionAdmin]
	docs := rec.Sections[SectionDocuments]
	acct := rec.Sections[SectionAccount]

	h := &HospitalRegistration{
		ID:                 id,
		Status:             Status(rec.Status),
		Name:               org["name"].Text(),
		FacilityType:       org["facility_type"].Text(),
		RegistrationNumber: org["registration_number"].Text(),
		Specialties:        listOf(org["specialties"]),
		Website:            optional(org["website"]),
		AddressLine1:       addr["line1"].Text(),
		AddressLine2:       optional(addr["line2"]),
		City:               addr["city"].Text(),
		State:              addr["state"].Text(),
		PostalCode:         addr["postal_code"].Text(),
		Country:            addr["country"].Text(),
		AdminName:          adm["full_name"].Text(),
		AdminEmail:         strings.ToLower(adm["email"].Text()),
		AdminPhone:         adm["phone"].Text(),
		AdminDesignation:   optional(adm["designation"]),
		PasswordHash:       adm[FieldPassword].Text(),
		Licenses:           listOf(docs[FieldLicenses]),
		Accreditations:     listOf(docs[FieldAccreditations]),
		WalletAddress:      acct[FieldWalletAddress].Text(),
		WalletProvider:     optional(acct[FieldWalletProvider]),
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.CreatedAt,
	}
	if v := org[FieldBedCapacity]; v.IsSet() {
		beds := int(v.Num)
		h.BedCapacity = &beds
	}
	if h.Status == "" {
		h.Status = StatusPending
	}
	return h, nil
}

func optional(v wizard.Value) *string {
	s := strings.TrimSpace(v.Text())
	if s == "" {
		return nil
	}
	return &s
}

func listOf(v wizard.Value) []string {
	out := make([]string, 0, len(v.List))
	return append(out, v.List...)
}

// ToFHIR renders the registration as a FHIR R4 Organization resource.
func (h *HospitalRegistration) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "Organization",
		"id":           h.ID.String(),
		"active":       h.Status == StatusApproved,
		"name":         h.Name,
		"identifier": []map[string]interface{}{
			{"use": "official", "value": h.RegistrationNumber},
		},
		"type": []map[string]interface{}{
			{
				"coding": []map[string]interface{}{{
					"system":  "http://terminology.hl7.org/CodeSystem/organization-type",
					"code":    "prov",
					"display": h.FacilityType,
				}},
				"text": h.FacilityType,
			},
		},
		"meta": map[string]interface{}{"lastUpdated": h.UpdatedAt.Format(time.RFC3339)},
	}

	telecoms := []map[string]interface{}{
		{"system": "phone", "value": h.AdminPhone},
		{"system": "email", "value": h.AdminEmail},
	}
	if h.Website != nil {
		telecoms = append(telecoms, map[string]interface{}{"system": "url", "value": *h.Website})
	}
	result["telecom"] = telecoms

	lines := []string{h.AddressLine1}
	if h.AddressLine2 != nil {
		lines = append(lines, *h.AddressLine2)
	}
	result["address"] = []map[string]interface{}{{
		"use":        "work",
		"line":       lines,
		"city":       h.City,
		"state":      h.State,
		"postalCode": h.PostalCode,
		"country":    h.Country,
	}}

	result["contact"] = []map[string]interface{}{{
		"purpose": map[string]interface{}{"text": "administrator"},
		"name":    map[string]interface{}{"text": h.AdminName},
	}}
	return result
}
