// Package veo starts and tracks Vertex AI Veo image-to-video operations.
package veo

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
	DefaultRegion = "us-central1"
	DefaultModel  = "veo-3.0-generate-preview"

	defaultStorageBaseURL = "https://storage.googleapis.com"
	aspectRatio           = "16:9"
	resolution            = "720p"
	bodyLimit             = 1 << 20
	defaultVideoLimit     = 256 << 20
)

type instanceImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type instance struct {
	Prompt string        `json:"prompt"`
	Image  instanceImage `json:"image"`
}

type parameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio"`
	Resolution  string `json:"resolution"`
	StorageURI  string `json:"storageUri"`
}

type predictRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

type predictResponse struct {
	Name string `json:"name"`
}

type fetchRequest struct {
	OperationName string `json:"operationName"`
}

// Operation is the state of a long-running generation.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

type OperationResponse struct {
	Videos                  []Video  `json:"videos"`
	RaiMediaFilteredCount   int      `json:"raiMediaFilteredCount"`
	RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
}

type Video struct {
	GcsURI   string `json:"gcsUri"`
	MimeType string `json:"mimeType"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// VideoURI returns the first generated video, if any.
func (o Operation) VideoURI() string {
	if o.Response == nil || len(o.Response.Videos) == 0 {
		return ""
	}
	return o.Response.Videos[0].GcsURI
}

// Filtered reports whether safety filters removed the output.
func (o Operation) Filtered() bool {
	return o.Response != nil && o.Response.RaiMediaFilteredCount > 0
}

// Config locates the model and the output bucket.
type Config struct {
	ProjectID string
	Region    string
	Model     string
	// Bucket receives generated videos; defaults to "<project>-dreamr-videos".
	Bucket string
}

type Client struct {
	cfg            Config
	baseURL        string
	storageBaseURL string
	videoLimit     int64
	httpClient     *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithStorageBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.storageBaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithVideoLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.videoLimit = n
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	if cfg.ProjectID == "" {
		return nil, errors.New("veo: project id must not be empty")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Bucket == "" {
		cfg.Bucket = cfg.ProjectID + "-dreamr-videos"
	}
	c := &Client{
		cfg:            cfg,
		baseURL:        fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Region),
		storageBaseURL: defaultStorageBaseURL,
		videoLimit:     defaultVideoLimit,
		httpClient:     &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) modelURL(method string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		c.baseURL, c.cfg.ProjectID, c.cfg.Region, c.cfg.Model, method)
}

// Generate starts an image-to-video operation and returns its full name.
func (c *Client) Generate(ctx context.Context, token, prompt string, image []byte, mimeType string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("veo: prompt must not be empty")
	}
	if len(image) == 0 {
		return "", errors.New("veo: image must not be empty")
	}
	body, err := json.Marshal(predictRequest{
		Instances: []instance{{
			Prompt: prompt,
			Image: instanceImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(image),
				MimeType:           mimeType,
			},
		}},
		Parameters: parameters{
			SampleCount: 1,
			AspectRatio: aspectRatio,
			Resolution:  resolution,
			StorageURI:  "gs://" + c.cfg.Bucket + "/",
		},
	})
	if err != nil {
		return "", fmt.Errorf("veo: marshal request: %w", err)
	}
	raw, err := c.postJSON(ctx, token, c.modelURL("predictLongRunning"), body)
	if err != nil {
		return "", fmt.Errorf("veo: predictLongRunning: %w", err)
	}
	var payload predictResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("veo: decode predict response: %w", err)
	}
	if payload.Name == "" {
		return "", errors.New("veo: predict response has no operation name")
	}
	return payload.Name, nil
}

// FetchOperation reads the current state of a named operation.
func (c *Client) FetchOperation(ctx context.Context, token, name string) (Operation, error) {
	body, err := json.Marshal(fetchRequest{OperationName: name})
	if err != nil {
		return Operation{}, fmt.Errorf("veo: marshal fetch request: %w", err)
	}
	raw, err := c.postJSON(ctx, token, c.modelURL("fetchPredictOperation"), body)
	if err != nil {
		return Operation{}, fmt.Errorf("veo: fetchPredictOperation: %w", err)
	}
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return Operation{}, fmt.Errorf("veo: decode operation: %w", err)
	}
	return op, nil
}

// Download fetches a gs:// object from the Cloud Storage download host.
func (c *Client) Download(ctx context.Context, token, gcsURI string) ([]byte, error) {
	path, ok := strings.CutPrefix(gcsURI, "gs://")
	if !ok || path == "" {
		return nil, fmt.Errorf("veo: not a gs:// uri: %q", gcsURI)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.storageBaseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("veo: create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	data, _, err := httpclient.Do(c.httpClient, req, "veo", c.videoLimit)
	if err != nil {
		return nil, fmt.Errorf("veo: download video: %w", err)
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, token, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	raw, _, err := httpclient.Do(c.httpClient, req, "veo", bodyLimit)
	return raw, err
}

// OperationID is the last path segment of an operation name.
func OperationID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
