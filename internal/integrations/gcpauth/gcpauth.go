// Package gcpauth turns a Google service-account key into short-lived bearer
// tokens using the signed-assertion (JWT bearer) grant.
package gcpauth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"dreamr/internal/integrations/httpclient"
)

const (
	DefaultScope    = "https://www.googleapis.com/auth/cloud-platform"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime = time.Hour
	tokenBodyLimit    = 64 << 10

	defaultExchangeTimeout = 30 * time.Second
)

// ServiceAccount is the subset of a service-account JSON key that is used.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccount decodes a service-account JSON key.
func ParseServiceAccount(raw []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("gcpauth: decode service account: %w", err)
	}
	if strings.TrimSpace(sa.ClientEmail) == "" {
		return ServiceAccount{}, errors.New("gcpauth: service account client_email is empty")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		return ServiceAccount{}, errors.New("gcpauth: service account private_key is empty")
	}
	// Keys pasted through env vars often carry escaped newlines.
	sa.PrivateKey = strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	return sa, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Manager signs assertions and exchanges them for access tokens. It does not
// cache tokens; callers decide when to refresh.
type Manager struct {
	account    ServiceAccount
	key        *rsa.PrivateKey
	scope      string
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time

	exchangeTimeout time.Duration
	group           singleflight.Group
}

type Option func(*Manager)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = httpClient
	}
}

func WithTokenURL(tokenURL string) Option {
	return func(m *Manager) {
		m.tokenURL = strings.TrimSpace(tokenURL)
	}
}

func WithScope(scope string) Option {
	return func(m *Manager) {
		m.scope = strings.TrimSpace(scope)
	}
}

// New parses the account's PEM key (PKCS#8 or PKCS#1).
func New(account ServiceAccount, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(account.ClientEmail) == "" {
		return nil, errors.New("gcpauth: client email must not be empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("gcpauth: parse private key: %w", err)
	}
	m := &Manager{
		account:  account,
		key:      key,
		scope:    DefaultScope,
		tokenURL: DefaultTokenURL,
		now:      time.Now,

		exchangeTimeout: defaultExchangeTimeout,
	}
	if account.TokenURI != "" {
		m.tokenURL = account.TokenURI
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tokenURL == "" {
		m.tokenURL = DefaultTokenURL
	}
	return m, nil
}

// ProjectID returns the project the service account belongs to.
func (m *Manager) ProjectID() string {
	return m.account.ProjectID
}

// Assertion returns a compact RS256 JWT valid for one hour.
func (m *Manager) Assertion() (string, error) {
	iat := m.now().UTC()
	claims := jwt.MapClaims{
		"iss":   m.account.ClientEmail,
		"scope": m.scope,
		"aud":   m.tokenURL,
		"iat":   iat.Unix(),
		"exp":   iat.Add(assertionLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("gcpauth: sign assertion: %w", err)
	}
	return signed, nil
}

// Token exchanges a fresh assertion for a bearer token. Concurrent callers
// share one exchange. The exchange is detached from any single caller, so a
// caller giving up only ends its own wait.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	ch := m.group.DoChan("token", func() (any, error) {
		exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.exchangeTimeout)
		defer cancel()
		return m.exchange(exchangeCtx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gcpauth: token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (m *Manager) exchange(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := m.Assertion()
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gcpauth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, _, err := httpclient.Do(m.httpClient, req, "gcpauth", tokenBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("gcpauth: token exchange: %w", err)
	}
	var payload tokenResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("gcpauth: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, errors.New("gcpauth: token response has no access_token")
	}
	tok := &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, nil
}
