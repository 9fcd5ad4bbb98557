package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StabilityClient calls the Stability AI text-to-image API.
type StabilityClient struct {
	http    *http.Client
	apiKey  string
	engine  string
	baseURL string
}

func NewStabilityClient(apiKey, engine string) *StabilityClient {
	if engine == "" {
		engine = "stable-diffusion-xl-1024-v1-0"
	}
	return &StabilityClient{
		http:    &http.Client{Timeout: 120 * time.Second},
		apiKey:  apiKey,
		engine:  engine,
		baseURL: "https://api.stability.ai/v1",
	}
}

func (c *StabilityClient) Name() string           { return "stability" }
func (c *StabilityClient) Capability() Capability { return CapabilityImage }
func (c *StabilityClient) Close() error           { return nil }

type stabilityReq struct {
	TextPrompts []stabilityPrompt `json:"text_prompts"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Samples     int               `json:"samples,omitempty"`
	StylePreset string            `json:"style_preset,omitempty"`
}

type stabilityPrompt struct {
	Text string `json:"text"`
}

type stabilityResp struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (c *StabilityClient) Generate(ctx context.Context, req Request) (*Result, error) {
	body := stabilityReq{
		TextPrompts: []stabilityPrompt{{Text: req.Prompt}},
		Samples:     1,
		StylePreset: req.Style,
	}

	b, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/generation/%s/text-to-image", c.baseURL, c.engine)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, NewFailure(FailureTimeout, c.Name(), err)
		}
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, string(snippet))
		return nil, NewFailure(classifyStatus(resp.StatusCode), c.Name(), err)
	}

	var out stabilityResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	if len(out.Artifacts) == 0 || out.Artifacts[0].Base64 == "" {
		return nil, NewFailure(FailureUpstream, c.Name(), fmt.Errorf("empty artifact list"))
	}

	return &Result{
		ImageRef: "data:image/png;base64," + out.Artifacts[0].Base64,
		Provider: c.Name(),
		Model:    c.engine,
		Latency:  time.Since(started),
	}, nil
}

func (c *StabilityClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/engines/list", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe status %s", resp.Status)
	}
	return nil
}
