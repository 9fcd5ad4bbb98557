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

// OpenAIImageClient calls the OpenAI image generations API.
type OpenAIImageClient struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

func NewOpenAIImageClient(apiKey, model string) *OpenAIImageClient {
	if model == "" {
		model = "dall-e-3"
	}
	return &OpenAIImageClient{
		http:    &http.Client{Timeout: 120 * time.Second},
		apiKey:  apiKey,
		model:   model,
		baseURL: openaiBaseURL,
	}
}

func (c *OpenAIImageClient) Name() string           { return "openai-image" }
func (c *OpenAIImageClient) Capability() Capability { return CapabilityImage }
func (c *OpenAIImageClient) Close() error           { return nil }

type imageGenReq struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageGenResp struct {
	Data []struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	} `json:"data"`
}

func (c *OpenAIImageClient) Generate(ctx context.Context, req Request) (*Result, error) {
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	body := imageGenReq{
		Model:          c.model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           size,
		Style:          req.Style,
		ResponseFormat: "url",
	}

	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(b))
	if err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	var out imageGenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewFailure(FailureUpstream, c.Name(), err)
	}
	if len(out.Data) == 0 {
		return nil, NewFailure(FailureUpstream, c.Name(), fmt.Errorf("empty image data"))
	}
	ref := out.Data[0].URL
	if ref == "" && out.Data[0].B64JSON != "" {
		ref = "data:image/png;base64," + out.Data[0].B64JSON
	}
	if ref == "" {
		return nil, NewFailure(FailureUpstream, c.Name(), fmt.Errorf("image response without url or payload"))
	}

	return &Result{
		ImageRef: ref,
		Provider: c.Name(),
		Model:    c.model,
		Latency:  time.Since(started),
	}, nil
}

func (c *OpenAIImageClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
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
