package registration

import (
	_ "embed"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

//go:embed hospital.yaml
var hospitalYAML []byte

// Section and field keys used outside the schema file.
const (
	SectionOrg       = "org"
	SectionAddress   = "address"
	SectionAdmin     = "admin"
	SectionDocuments = "documents"
	SectionAccount   = "account"

	FieldWalletAddress  = "wallet_address"
	FieldWalletProvider = "wallet_provider"
	FieldLicenses       = "licenses"
	FieldAccreditations = "accreditations"
	FieldPassword       = "password"
	FieldBedCapacity    = "bed_capacity"
)

// HospitalSchema returns the compiled hospital registration wizard. It
// panics if the embedded definition is invalid, which is caught by the
// schema check command and the package tests.
func HospitalSchema() *wizard.Schema {
	return wizard.MustLoadSchema(hospitalYAML)
}

// SchemaSource exposes the embedded definition for tooling.
func SchemaSource() []byte {
	out := make([]byte, len(hospitalYAML))
	copy(out, hospitalYAML)
	return out
}
