// Package twilio sends SMS/MMS, downloads inbound media and checks webhook
// signatures against the Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/httpclient"
)

const (
	defaultRateLimit = rate.Limit(1)
	defaultBurst     = 5
)

// messageAPI is the part of the Twilio REST API used for outbound messages.
// *openapi.ApiService satisfies it.
type messageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Client talks to one Twilio account.
type Client struct {
	accountSID string
	authToken  string
	from       string
	messages   messageAPI
	validator  twclient.RequestValidator
	httpClient *http.Client
	limiter    *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient sets the client used for media downloads.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit bounds outbound sends; a zero limit disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewClient(accountSID, authToken, from string, opts ...Option) (*Client, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return nil, errors.New("twilio: account sid must not be empty")
	}
	if strings.TrimSpace(authToken) == "" {
		return nil, errors.New("twilio: auth token must not be empty")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("twilio: from number must not be empty")
	}
	rest := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		messages:   rest.Api,
		validator:  twclient.NewRequestValidator(authToken),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(defaultRateLimit, defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send delivers msg and returns the message SID. A rejection by the API,
// e.g. of the media URL, carries the HTTP status (see httpclient.StatusCode).
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("twilio: recipient must not be empty")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("twilio: rate limit wait: %w", err)
		}
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(msg.To)
	params.SetBody(msg.Body)
	if msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}
	resp, err := c.messages.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio: send message: %w", restError(err))
	}
	if resp == nil || resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

// restError keeps the status of an API rejection visible to callers that
// only know httpclient.
func restError(err error) error {
	var apiErr *twclient.TwilioRestError
	if !errors.As(err, &apiErr) {
		return err
	}
	return &httpclient.HTTPStatusError{
		Service:    "twilio",
		StatusCode: apiErr.Status,
		URL:        apiErr.MoreInfo,
		Body:       fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message),
	}
}

// DownloadMedia fetches an inbound attachment. Media URLs require the
// account credentials. Bodies over maxBytes fail with httpclient.ErrTooLarge.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("twilio: create media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	data, header, err := httpclient.Do(c.httpClient, req, "twilio", maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("twilio: download media: %w", err)
	}
	return data, header.Get("Content-Type"), nil
}

// ValidateSignature checks the X-Twilio-Signature of a webhook POST against
// the full request URL and its form fields.
func (c *Client) ValidateSignature(fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return c.validator.Validate(fullURL, params, signature)
}
