package provider

import (
	"context"
	"time"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient creates a Gemini text client. The genai client reads the
// API key from the environment when apiKey is empty.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string           { return "gemini" }
func (g *GeminiClient) Capability() Capability { return CapabilityText }
func (g *GeminiClient) Close() error           { return nil }

func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Result, error) {
	full := req.Prompt
	if req.System != "" {
		full = req.System + "\n\n" + req.Prompt
	}
	cfg := &genai.GenerateContentConfig{}
	if req.WantJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	started := time.Now()
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}}, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewFailure(FailureTimeout, g.Name(), err)
		}
		return nil, NewFailure(FailureUpstream, g.Name(), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, NewFailure(FailureUpstream, g.Name(), ErrInvalidJSON)
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	return &Result{
		Text:      text,
		Provider:  g.Name(),
		Model:     g.model,
		TokensIn:  CountTokens(full),
		TokensOut: CountTokens(text),
		Latency:   time.Since(started),
	}, nil
}

// Probe issues a minimal one-word generation; the genai SDK exposes no
// cheaper authenticated call that is stable across versions.
func (g *GeminiClient) Probe(ctx context.Context) error {
	_, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: "ping"}}}},
		&genai.GenerateContentConfig{})
	return err
}
