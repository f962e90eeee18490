package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/bfl"
	"dreamr/internal/notifier"
	"dreamr/internal/poller"
	"dreamr/internal/repository"
	"dreamr/internal/storage"
)

var errNoSample = errors.New("edit ready without a result image")

// runEdit submits the edit, polls it to a terminal outcome and stores the
// edited image as the conversation's new current image.
func (j *JobRunner) runEdit(ctx context.Context, conv domain.Conversation, prompt string) {
	logger := log.Ctx(ctx)
	owned := func(c domain.Conversation) bool {
		return c.State == domain.StateProcessingEdit && c.ImageURL == conv.ImageURL
	}

	image, _, err := j.Store.Fetch(ctx, conv.ImageURL, MaxImageBytes)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("fetch source image: %w", err))
		return
	}
	job, err := j.Editor.Submit(ctx, prompt, image)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("submit edit: %w", err))
		return
	}
	logger.Info().Str("bflJobId", job.ID).Msg("edit submitted")

	res := poller.Run(ctx, j.editPoll, func(ctx context.Context, _ int) (poller.Observation[string], error) {
		out, err := j.Editor.Poll(ctx, job.PollingURL)
		if err != nil {
			return poller.Observation[string]{}, err
		}
		switch {
		case out.Status == bfl.StatusReady && out.Sample == "":
			return poller.Observation[string]{Outcome: poller.OutcomeFailed, Detail: errNoSample.Error()}, nil
		case out.Status == bfl.StatusReady:
			return poller.Observation[string]{Outcome: poller.OutcomeReady, Value: out.Sample}, nil
		case out.Moderated():
			return poller.Observation[string]{Outcome: poller.OutcomeModerated, Detail: out.Status}, nil
		case out.Failed():
			return poller.Observation[string]{Outcome: poller.OutcomeFailed, Detail: out.Status}, nil
		default:
			return poller.Observation[string]{Outcome: poller.OutcomePending}, nil
		}
	})

	switch res.Outcome {
	case poller.OutcomeReady:
		j.finishEdit(ctx, conv, owned, res.Value)
	case poller.OutcomeCanceled:
		j.interrupted(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("edit canceled after %d checks", res.Attempts))
	case poller.OutcomeModerated:
		j.fail(ctx, conv, owned, notifier.FailureModerated, outcomeError(res))
	default:
		j.fail(ctx, conv, owned, notifier.FailureEdit, outcomeError(res))
	}
}

func (j *JobRunner) finishEdit(ctx context.Context, conv domain.Conversation, owned func(domain.Conversation) bool, sampleURL string) {
	logger := log.Ctx(ctx)

	edited, _, err := j.Store.Fetch(ctx, sampleURL, MaxImageBytes)
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("download edited image: %w", err))
		return
	}
	key := j.Store.ObjectKey(storage.KindImage, conv.ID, "edited", "jpg")
	editedURL, err := j.Store.Upload(ctx, key, edited, "image/jpeg")
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("store edited image: %w", err))
		return
	}

	updated, err := repository.Mutate(ctx, j.Repo, conv.Key(), func(c *domain.Conversation) error {
		if !owned(*c) {
			return repository.ErrStale
		}
		c.ImageURL = editedURL
		c.State = domain.StateWaitingForVideoDecision
		return nil
	})
	if errors.Is(err, repository.ErrStale) {
		logger.Info().Msg("conversation moved on, edit result discarded")
		return
	}
	if err != nil {
		j.failUnlessCanceled(ctx, conv, owned, notifier.FailureEdit, fmt.Errorf("record edit result: %w", err))
		return
	}
	logger.Info().Str("imageUrl", editedURL).Msg("edit completed")

	if err := j.Notifier.NotifyEdited(ctx, updated); err != nil {
		logger.Error().Err(err).Msg("edited image not delivered")
	}
}

// failUnlessCanceled records a failure unless the job itself was canceled.
func (j *JobRunner) failUnlessCanceled(ctx context.Context, conv domain.Conversation, owned func(domain.Conversation) bool, kind notifier.FailureKind, cause error) {
	if ctx.Err() != nil {
		j.interrupted(ctx, conv, owned, kind, cause)
		return
	}
	j.fail(ctx, conv, owned, kind, cause)
}

// interrupted handles a job whose context ended. A superseded job leaves the
// conversation to whoever canceled it. A job stopped by shutdown fails its
// conversation and tells the user, on a short detached context.
func (j *JobRunner) interrupted(ctx context.Context, conv domain.Conversation, owned func(domain.Conversation) bool, kind notifier.FailureKind, cause error) {
	logger := log.Ctx(ctx)
	if !errors.Is(context.Cause(ctx), ErrShuttingDown) {
		logger.Info().AnErr("cause", cause).Msg("job canceled")
		return
	}
	logger.Warn().AnErr("cause", cause).Msg("job interrupted by shutdown")
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.shutdownGrace)
	defer cancel()
	j.fail(failCtx, conv, owned, kind, fmt.Errorf("%w: %v", ErrShuttingDown, cause))
}
