package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/bfl"
	"dreamr/internal/integrations/veo"
	"dreamr/internal/notifier"
	"dreamr/internal/poller"
	"dreamr/internal/repository"
)

const (
	defaultEditAttempts  = 60
	defaultVideoAttempts = 60
	defaultVideoInterval = 30 * time.Second
	defaultTokenRefresh  = 10
	defaultShutdownGrace = 10 * time.Second
)

type ImageEditor interface {
	Submit(ctx context.Context, prompt string, image []byte) (bfl.Job, error)
	Poll(ctx context.Context, pollingURL string) (bfl.Result, error)
}

type VideoGenerator interface {
	Generate(ctx context.Context, token, prompt string, image []byte, mimeType string) (string, error)
	FetchOperation(ctx context.Context, token, name string) (veo.Operation, error)
	Download(ctx context.Context, token, gcsURI string) ([]byte, error)
}

type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

type Notifier interface {
	NotifyEdited(ctx context.Context, conv domain.Conversation) error
	NotifyVideo(ctx context.Context, conv domain.Conversation) error
	NotifyFailure(ctx context.Context, conv domain.Conversation, kind notifier.FailureKind) error
}

// JobDeps are the collaborators every background job needs.
type JobDeps struct {
	Repo     repository.GetUpdater
	Store    ArtifactStore
	Editor   ImageEditor
	Video    VideoGenerator
	Tokens   TokenSource
	Notifier Notifier
}

// JobRunner runs edit and video jobs on a Registry, one per conversation.
type JobRunner struct {
	JobDeps
	registry     *Registry
	editPoll     poller.Config
	videoPoll    poller.Config
	tokenRefresh int

	// shutdownGrace bounds the failure write and notice of a job stopped by
	// shutdown.
	shutdownGrace time.Duration
}

type JobOption func(*JobRunner)

func WithRegistry(r *Registry) JobOption {
	return func(j *JobRunner) {
		j.registry = r
	}
}

// WithEditPolling replaces the image edit polling bounds.
func WithEditPolling(cfg poller.Config) JobOption {
	return func(j *JobRunner) {
		j.editPoll = cfg
	}
}

// WithVideoPolling replaces the video polling bounds. The access token is
// refreshed before every refreshEvery-th check.
func WithVideoPolling(cfg poller.Config, refreshEvery int) JobOption {
	return func(j *JobRunner) {
		j.videoPoll = cfg
		j.tokenRefresh = refreshEvery
	}
}

func NewJobRunner(deps JobDeps, opts ...JobOption) (*JobRunner, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("usecase: job repository must not be nil")
	case deps.Store == nil:
		return nil, errors.New("usecase: job artifact store must not be nil")
	case deps.Editor == nil:
		return nil, errors.New("usecase: image editor must not be nil")
	case deps.Video == nil:
		return nil, errors.New("usecase: video generator must not be nil")
	case deps.Tokens == nil:
		return nil, errors.New("usecase: token source must not be nil")
	case deps.Notifier == nil:
		return nil, errors.New("usecase: notifier must not be nil")
	}
	j := &JobRunner{
		JobDeps: deps,
		editPoll: poller.Config{
			Name:        "edit",
			MaxAttempts: defaultEditAttempts,
			Backoff:     poller.DefaultAdaptive(),
		},
		videoPoll: poller.Config{
			Name:        "video",
			MaxAttempts: defaultVideoAttempts,
			Backoff:     poller.Fixed{Interval: defaultVideoInterval},
		},
		tokenRefresh:  defaultTokenRefresh,
		shutdownGrace: defaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.registry == nil {
		j.registry = NewRegistry()
	}
	return j, nil
}

// Registry exposes the task registry for shutdown.
func (j *JobRunner) Registry() *Registry {
	return j.registry
}

func (j *JobRunner) StartEdit(ctx context.Context, conv domain.Conversation, prompt string) {
	j.start(ctx, conv, "edit", notifier.FailureEdit, func(ctx context.Context) {
		j.runEdit(ctx, conv, prompt)
	})
}

func (j *JobRunner) StartVideo(ctx context.Context, conv domain.Conversation) {
	j.start(ctx, conv, "video", notifier.FailureVideo, func(ctx context.Context) {
		j.runVideo(ctx, conv)
	})
}

func (j *JobRunner) Cancel(conversationID string) {
	if j.registry.Cancel(conversationID) {
		log.Info().Str("conversationId", conversationID).Msg("background job canceled")
	}
}

func (j *JobRunner) start(ctx context.Context, conv domain.Conversation, kind string, failure notifier.FailureKind, fn func(ctx context.Context)) {
	logger := log.With().Str("conversationId", conv.ID).Str("job", kind).Logger()
	ctx = logger.WithContext(ctx)
	if j.registry.Start(ctx, conv.ID, fn) {
		logger.Info().Msg("job started")
		return
	}

	// The conversation was already moved into its in-progress state.
	logger.Warn().Msg("job not started, shutting down")
	unchanged := func(c domain.Conversation) bool {
		return c.State == conv.State && c.ImageURL == conv.ImageURL
	}
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.shutdownGrace)
	defer cancel()
	j.fail(failCtx, conv, unchanged, failure, ErrShuttingDown)
}

// fail marks the conversation failed, if it still belongs to this job, and
// tells the user.
func (j *JobRunner) fail(ctx context.Context, conv domain.Conversation, owned func(domain.Conversation) bool, kind notifier.FailureKind, cause error) {
	logger := log.Ctx(ctx)
	logger.Error().Err(cause).Msg("job failed")

	failed, err := repository.Mutate(ctx, j.Repo, conv.Key(), func(c *domain.Conversation) error {
		if !owned(*c) {
			return repository.ErrStale
		}
		c.Fail()
		return nil
	})
	if errors.Is(err, repository.ErrStale) {
		logger.Info().Msg("conversation moved on, failure discarded")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("could not record failure")
		return
	}
	if err := j.Notifier.NotifyFailure(ctx, failed, kind); err != nil {
		logger.Error().Err(err).Msg("failure notification incomplete")
	}
}

// outcomeError turns a non-ready poll result into the failure cause.
func outcomeError[T any](res poller.Result[T]) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Detail != "" {
		return errors.New(res.Outcome.String() + ": " + res.Detail)
	}
	return errors.New(res.Outcome.String())
}
