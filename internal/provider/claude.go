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

// ClaudeClient calls the Anthropic Messages API.
// See: https://docs.anthropic.com/en/api/messages
type ClaudeClient struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

const (
	claudeBaseURL    = "https://api.anthropic.com/v1"
	claudeAPIVersion = "2023-06-01"
)

func NewClaudeClient(apiKey, model string) *ClaudeClient {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &ClaudeClient{
		http:    &http.Client{Timeout: 60 * time.Second},
		apiKey:  apiKey,
		model:   model,
		baseURL: claudeBaseURL,
	}
}

func (c *ClaudeClient) Name() string           { return "claude" }
func (c *ClaudeClient) Capability() Capability { return CapabilityText }
func (c *ClaudeClient) Close() error           { return nil }

type claudeReq struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *ClaudeClient) Generate(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	system := req.System
	if req.WantJSON {
		system = system + "\nRespond with a single valid JSON object and nothing else."
	}
	body := claudeReq{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	}

	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

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

	var out claudeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	if len(out.Content) == 0 || out.Content[0].Text == "" {
		return nil, NewFailure(FailureUpstream, c.Name(), ErrInvalidJSON)
	}

	text := out.Content[0].Text
	tokensOut := out.Usage.OutputTokens
	if tokensOut == 0 {
		tokensOut = CountTokens(text)
	}
	return &Result{
		Text:      text,
		Provider:  c.Name(),
		Model:     c.model,
		TokensIn:  out.Usage.InputTokens,
		TokensOut: tokensOut,
		Latency:   time.Since(started),
	}, nil
}

func (c *ClaudeClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)
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
