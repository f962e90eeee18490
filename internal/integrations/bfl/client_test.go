package bfl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"dreamr/internal/integrations/httpclient"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(" ")
	require.Error(t, err)
}

func TestSubmit(t *testing.T) {
	image := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/flux-kontext-pro", r.URL.Path)
		require.Equal(t, "bfl-key", r.Header.Get("x-key"))

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "add a sunset background", got["prompt"])
		require.Equal(t, base64.StdEncoding.EncodeToString(image), got["input_image"])
		require.Equal(t, "jpeg", got["output_format"])
		require.EqualValues(t, 2, got["safety_tolerance"])

		_, _ = w.Write([]byte(`{"id":"job-1","polling_url":"https://api.eu.bfl.ai/v1/get_result?id=job-1"}`))
	}))
	defer srv.Close()

	c, err := NewClient("bfl-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	job, err := c.Submit(context.Background(), "add a sunset background", image)
	require.NoError(t, err)
	require.Equal(t, Job{ID: "job-1", PollingURL: "https://api.eu.bfl.ai/v1/get_result?id=job-1"}, job)
}

func TestSubmit_Validation(t *testing.T) {
	c, err := NewClient("k")
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), "", []byte{1})
	require.ErrorContains(t, err, "prompt")
	_, err = c.Submit(context.Background(), "p", nil)
	require.ErrorContains(t, err, "image")
}

func TestSubmit_MissingPollingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer srv.Close()

	c, err := NewClient("k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), "p", []byte{1})
	require.ErrorContains(t, err, "polling_url")
}

func TestPoll(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		want      Result
		moderated bool
		failed    bool
	}{
		{"ready", `{"id":"j","status":"Ready","result":{"sample":"https://delivery/s.jpg"}}`, Result{ID: "j", Status: StatusReady, Sample: "https://delivery/s.jpg"}, false, false},
		{"pending", `{"id":"j","status":"Pending"}`, Result{ID: "j", Status: StatusPending}, false, false},
		{"content moderated", `{"id":"j","status":"Content Moderated"}`, Result{ID: "j", Status: StatusContentModerated}, true, false},
		{"request moderated", `{"id":"j","status":"Request Moderated"}`, Result{ID: "j", Status: StatusRequestModerated}, true, false},
		{"error", `{"id":"j","status":"Error"}`, Result{ID: "j", Status: StatusError}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := NewClient("k")
			require.NoError(t, err)
			got, err := c.Poll(context.Background(), srv.URL+"/v1/get_result?id=j")
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.moderated, got.Moderated())
			require.Equal(t, tc.failed, got.Failed())
		})
	}
}

func TestPoll_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient("k")
	require.NoError(t, err)
	_, err = c.Poll(context.Background(), srv.URL)
	status, ok := httpclient.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusTooManyRequests, status)
}
