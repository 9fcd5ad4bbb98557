package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatClient calls an OpenAI-compatible chat completions API. DeepSeek and
// OpenAI both speak this protocol, so a single client serves either with
// its own name, base URL and model.
type ChatClient struct {
	http    *http.Client
	name    string
	apiKey  string
	model   string
	baseURL string
}

const (
	deepseekBaseURL = "https://api.deepseek.com/v1"
	openaiBaseURL   = "https://api.openai.com/v1"
)

// NewDeepSeekClient creates a text client for the DeepSeek chat API.
func NewDeepSeekClient(apiKey, model string) *ChatClient {
	if model == "" {
		model = "deepseek-chat"
	}
	return newChatClient("deepseek", deepseekBaseURL, apiKey, model)
}

// NewOpenAIClient creates a text client for the OpenAI chat API.
func NewOpenAIClient(apiKey, model string) *ChatClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return newChatClient("openai", openaiBaseURL, apiKey, model)
}

func newChatClient(name, baseURL, apiKey, model string) *ChatClient {
	return &ChatClient{
		http:    &http.Client{Timeout: 60 * time.Second},
		name:    name,
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

func (c *ChatClient) Name() string           { return c.name }
func (c *ChatClient) Capability() Capability { return CapabilityText }
func (c *ChatClient) Close() error           { return nil }

type chatReq struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float32           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *ChatClient) Generate(ctx context.Context, req Request) (*Result, error) {
	body := chatReq{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.WantJSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, NewFailure(FailureUpstream, c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, NewFailure(FailureTimeout, c.name, err)
		}
		return nil, NewFailure(FailureUpstream, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, string(snippet))
		return nil, NewFailure(classifyStatus(resp.StatusCode), c.name, err)
	}

	var out chatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewFailure(FailureUpstream, c.name, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, NewFailure(FailureUpstream, c.name, ErrInvalidJSON)
	}

	content := out.Choices[0].Message.Content
	tokensOut := out.Usage.CompletionTokens
	if tokensOut == 0 {
		tokensOut = CountTokens(content)
	}
	return &Result{
		Text:      content,
		Provider:  c.name,
		Model:     c.model,
		TokensIn:  out.Usage.PromptTokens,
		TokensOut: tokensOut,
		Latency:   time.Since(started),
	}, nil
}

// Probe lists models, which exercises auth and reachability without
// spending generation tokens.
func (c *ChatClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
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
