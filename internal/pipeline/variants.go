package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VariantDraft is one proposed option for a stage before it is persisted.
type VariantDraft struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
	AIGenerated bool           `json:"-"`
}

// Prompt builds the generation prompt for a stage. Prior choices are
// included so later stages build on what the user already picked.
func (s Stage) Prompt(title, description, genre string, count int, prior []Choice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game: %q. %s", title, description)
	if genre != "" {
		fmt.Fprintf(&b, " Genre: %s.", genre)
	}
	b.WriteString("\n")
	for _, c := range prior {
		fmt.Fprintf(&b, "Chosen for %s: %s\n", c.StepID, c.Title)
	}
	if s.Type == StepAsset {
		fmt.Fprintf(&b, "Produce concept art for the %s stage: %s", s.ID, s.Description)
		return b.String()
	}
	fmt.Fprintf(&b,
		`Produce exactly %d distinct options for the %s stage (%s).
Respond with a JSON object {"variants":[{"title":...,"description":...,"details":{...}}]}.`,
		count, s.ID, s.Description)
	return b.String()
}

// SystemPrompt is the fixed instruction shared by all text stages.
func (s Stage) SystemPrompt() string {
	return "You are a game design assistant. Answer with valid JSON only, no prose outside the JSON object."
}

type variantEnvelope struct {
	Variants []VariantDraft `json:"variants"`
}

// ParseVariants decodes the model's JSON into at most limit drafts. A
// malformed or empty payload is an error the caller recovers from with a
// fallback draft.
func ParseVariants(raw string, limit int) ([]VariantDraft, error) {
	var env variantEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if len(env.Variants) == 0 {
		return nil, fmt.Errorf("decode variants: empty list")
	}
	if len(env.Variants) > limit {
		env.Variants = env.Variants[:limit]
	}
	for i := range env.Variants {
		if strings.TrimSpace(env.Variants[i].Title) == "" {
			env.Variants[i].Title = fmt.Sprintf("Option %d", i+1)
		}
		env.Variants[i].AIGenerated = true
	}
	return env.Variants, nil
}

// ImageVariant wraps one generated image reference as a draft.
func ImageVariant(stage Stage, seq int, imageRef, model string) VariantDraft {
	return VariantDraft{
		Title:       fmt.Sprintf("%s concept %d", stage.Name, seq+1),
		Description: stage.Description,
		Details: map[string]any{
			"image_url": imageRef,
			"model":     model,
		},
		AIGenerated: true,
	}
}

// FallbackVariant synthesizes a deterministic placeholder when every
// provider is exhausted, so the user is never blocked on an outage.
func FallbackVariant(stage Stage, title string) VariantDraft {
	return VariantDraft{
		Title:       fmt.Sprintf("Standard %s", strings.ToLower(stage.Name)),
		Description: fmt.Sprintf("Deterministic %s template for %q, generated without AI assistance.", stage.Type, title),
		Details: map[string]any{
			"template": string(stage.Type),
			"stage":    stage.ID,
		},
		AIGenerated: false,
	}
}
