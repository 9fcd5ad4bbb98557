package pipeline

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gameforge/internal/provider"
)

// StepType tags what a pipeline stage produces.
type StepType string

const (
	StepDesign   StepType = "design"
	StepCode     StepType = "code"
	StepAsset    StepType = "asset"
	StepTest     StepType = "test"
	StepOptimize StepType = "optimize"
)

var validStepTypes = map[StepType]bool{
	StepDesign:   true,
	StepCode:     true,
	StepAsset:    true,
	StepTest:     true,
	StepOptimize: true,
}

const (
	minVariants = 2
	maxVariants = 5
)

// Stage is one named step of the generation pipeline, bound to a target
// capability and a provider preference.
type Stage struct {
	ID           string              `yaml:"id"`
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description"`
	Type         StepType            `yaml:"type"`
	Capability   provider.Capability `yaml:"capability"`
	Preferred    string              `yaml:"preferred_provider"`
	VariantCount int                 `yaml:"variant_count"`
}

// Pipeline is the ordered stage list a session is created from.
type Pipeline struct {
	Stages []Stage `yaml:"stages"`
}

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// Default returns the built-in five-stage game pipeline.
func Default() *Pipeline {
	p, err := parse(defaultPipelineYAML)
	if err != nil {
		// The embedded definition is validated by tests; reaching here
		// means the binary shipped with a broken asset.
		panic(fmt.Sprintf("embedded pipeline invalid: %v", err))
	}
	return p
}

// Load reads stage definitions from a YAML file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline yaml: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pipeline) validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	seen := make(map[string]bool)
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.ID == "" {
			return fmt.Errorf("stage %d: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("stage %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if !validStepTypes[s.Type] {
			return fmt.Errorf("stage %q: unknown type %q", s.ID, s.Type)
		}
		if s.Capability == "" {
			if s.Type == StepAsset {
				s.Capability = provider.CapabilityImage
			} else {
				s.Capability = provider.CapabilityText
			}
		}
		if s.Capability != provider.CapabilityText && s.Capability != provider.CapabilityImage {
			return fmt.Errorf("stage %q: unknown capability %q", s.ID, s.Capability)
		}
		if s.VariantCount == 0 {
			s.VariantCount = 3
		}
		if s.VariantCount < minVariants || s.VariantCount > maxVariants {
			return fmt.Errorf("stage %q: variant_count %d outside [%d,%d]", s.ID, s.VariantCount, minVariants, maxVariants)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
	}
	return nil
}

// Stage returns the stage at the given index.
func (p *Pipeline) Stage(index int) (Stage, bool) {
	if index < 0 || index >= len(p.Stages) {
		return Stage{}, false
	}
	return p.Stages[index], true
}

// Len is the number of stages, i.e. a session's totalSteps.
func (p *Pipeline) Len() int { return len(p.Stages) }
