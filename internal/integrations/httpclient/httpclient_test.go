package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("12345"))
	}))
	defer srv.Close()

	body, header, err := Do(srv.Client(), newRequest(t, srv.URL), "test", 5)
	require.NoError(t, err)
	require.Equal(t, "12345", string(body))
	require.Equal(t, "image/png", header.Get("Content-Type"))
}

func TestDo_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("123456"))
	}))
	defer srv.Close()

	_, _, err := Do(srv.Client(), newRequest(t, srv.URL), "test", 5)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestDo_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 10000)))
	}))
	defer srv.Close()

	_, _, err := Do(nil, newRequest(t, srv.URL+"/poll?signature=secret"), "bfl", 1<<20)
	require.Error(t, err)

	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	require.Len(t, se.Body, 4096)
	require.NotContains(t, se.URL, "secret")
	require.Contains(t, err.Error(), "bfl: unexpected status 429")

	status, ok := StatusCode(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	require.Equal(t, http.StatusTooManyRequests, status)
}

func TestStatusCode_PlainError(t *testing.T) {
	_, ok := StatusCode(errors.New("boom"))
	require.False(t, ok)
}
