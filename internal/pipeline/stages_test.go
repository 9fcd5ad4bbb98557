package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"gameforge/internal/provider"
)

func TestDefaultPipeline(t *testing.T) {
	p := Default()
	if p.Len() != 5 {
		t.Fatalf("expected 5 stages, got %d", p.Len())
	}

	first, ok := p.Stage(0)
	if !ok || first.ID != "game_design" {
		t.Fatalf("unexpected first stage: %+v", first)
	}
	if first.Capability != provider.CapabilityText {
		t.Fatalf("design stage capability: %q", first.Capability)
	}

	asset, _ := p.Stage(2)
	if asset.Type != StepAsset || asset.Capability != provider.CapabilityImage {
		t.Fatalf("asset stage misconfigured: %+v", asset)
	}

	if _, ok := p.Stage(5); ok {
		t.Fatalf("stage index out of range should not resolve")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	def := `
stages:
  - id: only_step
    type: design
`
	if err := os.WriteFile(path, []byte(def), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, _ := p.Stage(0)
	if s.Capability != provider.CapabilityText {
		t.Fatalf("default capability: %q", s.Capability)
	}
	if s.VariantCount != 3 {
		t.Fatalf("default variant count: %d", s.VariantCount)
	}
	if s.Name != "only_step" {
		t.Fatalf("default name: %q", s.Name)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"no stages":     `stages: []`,
		"missing id":    "stages:\n  - type: design\n",
		"unknown type":  "stages:\n  - id: a\n    type: bogus\n",
		"duplicate id":  "stages:\n  - id: a\n    type: design\n  - id: a\n    type: code\n",
		"variant count": "stages:\n  - id: a\n    type: design\n    variant_count: 9\n",
	}
	for name, def := range cases {
		if _, err := parse([]byte(def)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
