package registration

import (
	"testing"

	"github.com/healthvault/registrar/internal/platform/wizard"
)

func TestHospitalSchema(t *testing.T) {
	s := HospitalSchema()
	if s.StepCount() != 5 {
		t.Fatalf("expected 5 steps, got %d", s.StepCount())
	}
	if s.ListPolicy != wizard.ListNonEmpty {
		t.Errorf("expected non_empty list policy, got %q", s.ListPolicy)
	}

	final, _ := s.Step(5)
	if final.Section != SectionAccount {
		t.Errorf("expected final step to edit %q, got %q", SectionAccount, final.Section)
	}
	found := false
	for _, f := range final.Required {
		if f == FieldWalletAddress {
			found = true
		}
	}
	if !found {
		t.Error("final step must require the wallet address")
	}

	def, ok := s.Field(SectionAccount, FieldWalletProvider)
	if !ok || def.Type != wizard.FieldEnum || len(def.Options) != 3 {
		t.Errorf("unexpected wallet provider field: %+v", def)
	}
}

func TestSchemaSource_IsCopy(t *testing.T) {
	src := SchemaSource()
	src[0] = '#'
	if SchemaSource()[0] == '#' {
		t.Error("SchemaSource must not expose the embedded buffer")
	}
}
