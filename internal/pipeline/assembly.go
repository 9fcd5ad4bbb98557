package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Choice records the variant the user selected for one stage.
type Choice struct {
	StepID    string         `json:"stepId"`
	StepType  StepType       `json:"stepType"`
	VariantID string         `json:"variantId"`
	Title     string         `json:"title"`
	Details   map[string]any `json:"details,omitempty"`
}

// Artifact is the assembled output of a completed session.
type Artifact struct {
	GameID      string    `json:"gameId"`
	Title       string    `json:"title"`
	GamePath    string    `json:"gamePath"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Assets      []string  `json:"assets"`
	Choices     []Choice  `json:"choices"`
	Degraded    bool      `json:"degraded,omitempty"`
	AssembledAt time.Time `json:"assembledAt"`
}

// Assemble merges the recorded selections into the final artifact
// manifest. Assembly is deterministic: the same choices in the same order
// produce byte-identical bundle content (AssembledAt lives only in the
// returned Artifact, not in the bundle).
func Assemble(gameID, title string, choices []Choice, degraded bool) (Artifact, []byte, error) {
	if len(choices) == 0 {
		return Artifact{}, nil, fmt.Errorf("assemble: no choices recorded")
	}

	var assets []string
	for _, c := range choices {
		if c.StepType != StepAsset || c.Details == nil {
			continue
		}
		if ref, ok := c.Details["image_url"].(string); ok && ref != "" {
			assets = append(assets, ref)
		}
	}

	bundle := struct {
		GameID  string   `json:"gameId"`
		Title   string   `json:"title"`
		Choices []Choice `json:"choices"`
		Assets  []string `json:"assets"`
	}{
		GameID:  gameID,
		Title:   title,
		Choices: choices,
		Assets:  assets,
	}
	content, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("assemble: %w", err)
	}

	artifact := Artifact{
		GameID:      gameID,
		Title:       title,
		GamePath:    fmt.Sprintf("games/%s/game.json", gameID),
		Assets:      assets,
		Choices:     choices,
		Degraded:    degraded,
		AssembledAt: time.Now().UTC(),
	}
	return artifact, content, nil
}
