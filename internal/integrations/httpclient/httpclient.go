// Package httpclient holds the request plumbing shared by the provider clients.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout applies when a client is built without its own http.Client.
	DefaultTimeout = 30 * time.Second

	errorBodyLimit = 4096
)

// ErrTooLarge is returned when a response body exceeds the caller's limit.
var ErrTooLarge = errors.New("httpclient: response body exceeds limit")

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	Service    string
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s: %s", e.Service, e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// StatusCode extracts the upstream HTTP status from err, if any.
func StatusCode(err error) (int, bool) {
	var coded interface{ HTTPStatusCode() int }
	if errors.As(err, &coded) {
		return coded.HTTPStatusCode(), true
	}
	return 0, false
}

// OrDefault returns c, or a client with DefaultTimeout when c is nil.
func OrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// Do sends req and reads at most limit bytes of a 2xx body. Non-2xx responses
// become *HTTPStatusError labelled with service.
func Do(c *http.Client, req *http.Request, service string, limit int64) ([]byte, http.Header, error) {
	res, err := OrDefault(c).Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		return nil, res.Header, &HTTPStatusError{
			Service:    service,
			StatusCode: res.StatusCode,
			URL:        redact(req),
			Body:       string(buf),
		}
	}

	// One extra byte tells "exactly at the limit" apart from "over it".
	buf, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, res.Header, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, res.Header, ErrTooLarge
	}
	return buf, res.Header, nil
}

// redact drops the query string, which may carry signatures.
func redact(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
