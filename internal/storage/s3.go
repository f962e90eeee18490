// Package storage keeps images and videos in S3 and hands out URLs that the
// messaging and AI providers can fetch.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"dreamr/internal/integrations/httpclient"
)

const defaultPresignExpiry = 7 * 24 * time.Hour

// s3API is the minimal S3 interface required by Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presignAPI is satisfied by *s3.PresignClient.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store writes immutable objects to one bucket.
type Store struct {
	api           s3API
	presigner     presignAPI
	bucket        string
	publicBaseURL string
	presignExpiry time.Duration
	httpClient    *http.Client
	now           func() time.Time
}

type Option func(*Store)

// WithPublicBaseURL serves objects from a CDN or public bucket URL instead of
// presigned links.
func WithPublicBaseURL(baseURL string) Option {
	return func(s *Store) {
		s.publicBaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithPresignExpiry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.presignExpiry = d
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Store) {
		s.httpClient = httpClient
	}
}

func New(api s3API, presigner presignAPI, bucket string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("storage: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket must not be empty")
	}
	s := &Store{
		api:           api,
		presigner:     presigner,
		bucket:        bucket,
		presignExpiry: defaultPresignExpiry,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publicBaseURL == "" && s.presigner == nil {
		return nil, errors.New("storage: either a public base URL or a presigner is required")
	}
	return s, nil
}

// Kind groups objects by what they hold.
type Kind string

const (
	KindImage Kind = "images"
	KindVideo Kind = "videos"
)

// ObjectKey names a new object: <kind>/<conversation>-<unix nanos>[-suffix].<ext>.
func (s *Store) ObjectKey(kind Kind, conversationID, suffix, ext string) string {
	name := fmt.Sprintf("%s/%s-%d", kind, conversationID, s.now().UnixNano())
	if suffix != "" {
		name += "-" + suffix
	}
	return name + "." + strings.TrimPrefix(ext, ".")
}

// Upload stores data under key and returns a URL for it.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("storage: Upload: empty object")
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: Upload %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("object stored")

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return presigned.URL, nil
}

// Fetch downloads an object (or any public URL) into memory. Bodies larger
// than maxBytes fail with httpclient.ErrTooLarge.
func (s *Store) Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: Fetch: %w", err)
	}
	data, header, err := httpclient.Do(s.httpClient, req, "storage", maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("storage: Fetch: %w", err)
	}
	return data, header.Get("Content-Type"), nil
}
