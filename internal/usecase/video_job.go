package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/veo"
	"dreamr/internal/notifier"
	"dreamr/internal/poller"
	"dreamr/internal/repository"
	"dreamr/internal/storage"
)

var errNoVideo = errors.New("operation finished without a video")

// runVideo starts generation from the current image, records the operation
// id, polls it and stores the finished video.
func (j *JobRunner) runVideo(ctx context.Context, conv domain.Conversation) {
	logger := log.Ctx(ctx)
	submitting := func(c domain.Conversation) bool {
		return c.State == domain.StateGeneratingVideo && c.OperationID == "" && c.ImageURL == conv.ImageURL
	}

	image, declared, err := j.Store.Fetch(ctx, conv.ImageURL, MaxImageBytes)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, submitting, notifier.FailureVideo, fmt.Errorf("fetch source image: %w", err))
		return
	}
	mimeType, err := validateImage(image, declared)
	if err != nil {
		j.fail(ctx, conv, submitting, notifier.FailureVideo, fmt.Errorf("source image: %w", err))
		return
	}
	tok, err := j.Tokens.Token(ctx)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, submitting, notifier.FailureVideo, fmt.Errorf("access token: %w", err))
		return
	}
	name, err := j.Video.Generate(ctx, tok.AccessToken, conv.VideoPrompt, image, mimeType)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, submitting, notifier.FailureVideo, fmt.Errorf("start generation: %w", err))
		return
	}

	opID := veo.OperationID(name)
	accepted, err := repository.Mutate(ctx, j.Repo, conv.Key(), func(c *domain.Conversation) error {
		if !submitting(*c) {
			return repository.ErrStale
		}
		c.OperationID = opID
		return nil
	})
	if errors.Is(err, repository.ErrStale) {
		logger.Info().Str("operationId", opID).Msg("conversation moved on, generation abandoned")
		return
	}
	if err != nil {
		j.failUnlessCanceled(ctx, conv, submitting, notifier.FailureVideo, fmt.Errorf("record operation %s: %w", opID, err))
		return
	}
	logger.Info().Str("operationId", opID).Msg("video generation started")

	owned := func(c domain.Conversation) bool {
		return c.State == domain.StateGeneratingVideo && c.OperationID == opID
	}

	token := tok.AccessToken
	cfg := j.videoPoll
	cfg.BeforeCheck = func(ctx context.Context, attempt int) error {
		if j.tokenRefresh <= 0 || attempt%j.tokenRefresh != 0 {
			return nil
		}
		fresh, err := j.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("refresh access token: %w", err)
		}
		token = fresh.AccessToken
		return nil
	}

	res := poller.Run(ctx, cfg, func(ctx context.Context, _ int) (poller.Observation[string], error) {
		op, err := j.Video.FetchOperation(ctx, token, name)
		if err != nil {
			return poller.Observation[string]{}, err
		}
		return classifyOperation(op), nil
	})

	switch res.Outcome {
	case poller.OutcomeReady:
		j.finishVideo(ctx, accepted, owned, token, res.Value)
	case poller.OutcomeCanceled:
		j.interrupted(ctx, accepted, owned, notifier.FailureVideo, fmt.Errorf("video canceled after %d checks", res.Attempts))
	case poller.OutcomeModerated:
		j.fail(ctx, accepted, owned, notifier.FailureModerated, outcomeError(res))
	default:
		j.fail(ctx, accepted, owned, notifier.FailureVideo, outcomeError(res))
	}
}

func classifyOperation(op veo.Operation) poller.Observation[string] {
	switch {
	case !op.Done:
		return poller.Observation[string]{Outcome: poller.OutcomePending}
	case op.Error != nil:
		return poller.Observation[string]{Outcome: poller.OutcomeFailed, Detail: op.Error.Message}
	case op.VideoURI() != "":
		return poller.Observation[string]{Outcome: poller.OutcomeReady, Value: op.VideoURI()}
	case op.Filtered():
		detail := "filtered"
		if reasons := op.Response.RaiMediaFilteredReasons; len(reasons) > 0 {
			detail = reasons[0]
		}
		return poller.Observation[string]{Outcome: poller.OutcomeModerated, Detail: detail}
	default:
		return poller.Observation[string]{Outcome: poller.OutcomeFailed, Detail: errNoVideo.Error()}
	}
}

func (j *JobRunner) finishVideo(ctx context.Context, conv domain.Conversation, owned func(domain.Conversation) bool, token, gcsURI string) {
	logger := log.Ctx(ctx)

	video, err := j.Video.Download(ctx, token, gcsURI)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureVideo, fmt.Errorf("download video: %w", err))
		return
	}
	key := j.Store.ObjectKey(storage.KindVideo, conv.ID, "", "mp4")
	videoURL, err := j.Store.Upload(ctx, key, video, "video/mp4")
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureVideo, fmt.Errorf("store video: %w", err))
		return
	}

	completed, err := repository.Mutate(ctx, j.Repo, conv.Key(), func(c *domain.Conversation) error {
		if !owned(*c) {
			return repository.ErrStale
		}
		c.VideoURL = videoURL
		c.State = domain.StateCompleted
		return nil
	})
	if errors.Is(err, repository.ErrStale) {
		logger.Info().Msg("conversation moved on, video discarded")
		return
	}
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureVideo, fmt.Errorf("record video: %w", err))
		return
	}
	logger.Info().Str("videoUrl", videoURL).Msg("video completed")

	if err := j.Notifier.NotifyVideo(ctx, completed); err != nil {
		logger.Error().Err(err).Msg("video notification incomplete")
	}
}
