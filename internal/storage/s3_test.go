package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"dreamr/internal/integrations/httpclient"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

type fakePresigner struct {
	expires time.Duration
	key     string
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	f.key = *in.Key
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=abc"}, nil
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, &fakePresigner{}, "b")
	require.Error(t, err)
	_, err = New(&fakeS3{}, &fakePresigner{}, " ")
	require.Error(t, err)
	_, err = New(&fakeS3{}, nil, "b")
	require.ErrorContains(t, err, "presigner")
}

func TestUpload_PublicBaseURL(t *testing.T) {
	api := &fakeS3{}
	s, err := New(api, nil, "media", WithPublicBaseURL("https://cdn.example.com/"))
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "images/c1-1.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/images/c1-1.jpg", url)
	require.Equal(t, "media", *api.in.Bucket)
	require.Equal(t, "image/jpeg", *api.in.ContentType)
	require.Equal(t, "jpeg", string(api.body))
}

func TestUpload_Presigned(t *testing.T) {
	p := &fakePresigner{}
	s, err := New(&fakeS3{}, p, "media")
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "videos/c1-1.mp4", []byte("mp4"), "video/mp4")
	require.NoError(t, err)
	require.Contains(t, url, "videos/c1-1.mp4")
	require.Equal(t, 7*24*time.Hour, p.expires)
}

func TestUpload_Errors(t *testing.T) {
	s, err := New(&fakeS3{err: errors.New("AccessDenied")}, &fakePresigner{}, "media")
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "k", nil, "image/jpeg")
	require.ErrorContains(t, err, "empty")

	_, err = s.Upload(context.Background(), "k", []byte("x"), "image/jpeg")
	require.ErrorContains(t, err, "AccessDenied")
}

func TestObjectKey(t *testing.T) {
	s, err := New(&fakeS3{}, &fakePresigner{}, "media")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(0, 1700000000000000000) }

	require.Equal(t, "images/c1-1700000000000000000-edited.jpg", s.ObjectKey(KindImage, "c1", "edited", "jpg"))
	require.Equal(t, "videos/c1-1700000000000000000.mp4", s.ObjectKey(KindVideo, "c1", "", ".mp4"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("pngdata"))
	}))
	defer srv.Close()

	s, err := New(&fakeS3{}, &fakePresigner{}, "media")
	require.NoError(t, err)

	data, ct, err := s.Fetch(context.Background(), srv.URL, 100)
	require.NoError(t, err)
	require.Equal(t, "pngdata", string(data))
	require.Equal(t, "image/png", ct)

	_, _, err = s.Fetch(context.Background(), srv.URL, 3)
	require.ErrorIs(t, err, httpclient.ErrTooLarge)
}
