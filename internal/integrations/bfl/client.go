// Package bfl is a client for the Black Forest Labs FLUX.1 Kontext image
// editing API.
package bfl

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dreamr/internal/integrations/httpclient"
)

const (
	defaultBaseURL  = "https://api.bfl.ai"
	defaultModel    = "flux-kontext-pro"
	outputFormat    = "jpeg"
	safetyTolerance = 2
	bodyLimit       = 1 << 20
)

// Job statuses reported by the polling endpoint.
const (
	StatusReady            = "Ready"
	StatusPending          = "Pending"
	StatusProcessing       = "Processing"
	StatusError            = "Error"
	StatusFailed           = "Failed"
	StatusContentModerated = "Content Moderated"
	StatusRequestModerated = "Request Moderated"
	StatusTaskNotFound     = "Task not found"
)

type editRequest struct {
	Prompt          string `json:"prompt"`
	InputImage      string `json:"input_image"`
	OutputFormat    string `json:"output_format"`
	SafetyTolerance int    `json:"safety_tolerance"`
}

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

type pollResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// Job is an accepted edit request.
type Job struct {
	ID         string
	PollingURL string
}

// Result is one polling observation.
type Result struct {
	ID     string
	Status string
	// Sample is the signed URL of the edited image once Ready.
	Sample string
}

// Moderated reports whether the provider refused the content or the prompt.
func (r Result) Moderated() bool {
	return r.Status == StatusContentModerated || r.Status == StatusRequestModerated
}

// Failed reports an explicit provider failure.
func (r Result) Failed() bool {
	return r.Status == StatusError || r.Status == StatusFailed
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("bfl: api key must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit starts an edit of image guided by prompt.
func (c *Client) Submit(ctx context.Context, prompt string, image []byte) (Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return Job{}, errors.New("bfl: prompt must not be empty")
	}
	if len(image) == 0 {
		return Job{}, errors.New("bfl: image must not be empty")
	}
	body, err := json.Marshal(editRequest{
		Prompt:          prompt,
		InputImage:      base64.StdEncoding.EncodeToString(image),
		OutputFormat:    outputFormat,
		SafetyTolerance: safetyTolerance,
	})
	if err != nil {
		return Job{}, fmt.Errorf("bfl: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/" + c.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Job{}, fmt.Errorf("bfl: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", c.apiKey)

	raw, _, err := httpclient.Do(c.httpClient, req, "bfl", bodyLimit)
	if err != nil {
		return Job{}, fmt.Errorf("bfl: submit: %w", err)
	}
	var payload submitResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Job{}, fmt.Errorf("bfl: decode submit response: %w", err)
	}
	if payload.PollingURL == "" {
		return Job{}, errors.New("bfl: submit response has no polling_url")
	}
	return Job{ID: payload.ID, PollingURL: payload.PollingURL}, nil
}

// Poll queries the job once. Non-2xx responses are returned as
// *httpclient.HTTPStatusError so callers can back off per status class.
func (c *Client) Poll(ctx context.Context, pollingURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("bfl: create poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", c.apiKey)

	raw, _, err := httpclient.Do(c.httpClient, req, "bfl", bodyLimit)
	if err != nil {
		return Result{}, fmt.Errorf("bfl: poll: %w", err)
	}
	var payload pollResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("bfl: decode poll response: %w", err)
	}
	res := Result{ID: payload.ID, Status: payload.Status}
	if payload.Result != nil {
		res.Sample = payload.Result.Sample
	}
	return res, nil
}
