package tool

import "testing"

func TestDefinitionValidate(t *testing.T) {
	valid := Definition{Name: "tenant.provision", Risk: RiskHigh, RequiresApproval: true}

	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr bool
	}{
		{"valid high-risk", func(*Definition) {}, false},
		{"missing name", func(d *Definition) { d.Name = "" }, true},
		{"unnamespaced name", func(d *Definition) { d.Name = "provision" }, true},
		{"bad risk", func(d *Definition) { d.Risk = "critical" }, true},
		{"approval on low risk", func(d *Definition) { d.Risk = RiskLow }, true},
		{"deprecated without replacement", func(d *Definition) { d.Deprecated = true }, true},
		{"deprecated with replacement", func(d *Definition) {
			d.Deprecated = true
			d.ReplacedBy = "tenant.provision2"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefinitionScopeFallback(t *testing.T) {
	d := Definition{Name: "system.health", Risk: RiskLow}
	if got := d.Scope(); got != DefaultScope {
		t.Errorf("expected fallback scope %q, got %q", DefaultScope, got)
	}

	d.RequiredScope = "system.read"
	if got := d.Scope(); got != "system.read" {
		t.Errorf("expected system.read, got %q", got)
	}
}

func TestActorString(t *testing.T) {
	if got := (Actor{}).String(); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
	if got := (Actor{Type: "operator", ID: "ada"}).String(); got != "operator:ada" {
		t.Errorf("expected operator:ada, got %q", got)
	}
}
