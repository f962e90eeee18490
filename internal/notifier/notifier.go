// Package notifier pushes job results to users and returns their
// conversations to a usable state afterwards.
package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"dreamr/internal/domain"
	"dreamr/internal/repository"
)

// Sender delivers one outbound message.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (string, error)
}

// FailureKind selects the apology text.
type FailureKind int

const (
	FailureEdit FailureKind = iota
	FailureVideo
	FailureModerated
)

func (k FailureKind) message() string {
	switch k {
	case FailureEdit:
		return domain.NoticeEditFailed
	case FailureModerated:
		return domain.NoticeModerated
	default:
		return domain.NoticeVideoFailed
	}
}

type Notifier struct {
	sender Sender
	repo   repository.GetUpdater
}

func New(sender Sender, repo repository.GetUpdater) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("notifier: sender must not be nil")
	}
	if repo == nil {
		return nil, errors.New("notifier: repository must not be nil")
	}
	return &Notifier{sender: sender, repo: repo}, nil
}

// NotifyEdited sends the edited image with the video-or-edit menu. The
// conversation stays at waiting_for_video_decision.
func (n *Notifier) NotifyEdited(ctx context.Context, conv domain.Conversation) error {
	return n.sendWithFallback(ctx, conv, domain.NoticeEditedImage, conv.ImageURL)
}

// NotifyVideo sends the finished video, then resets the conversation. The
// reset happens whether or not the message went out.
func (n *Notifier) NotifyVideo(ctx context.Context, conv domain.Conversation) error {
	sendErr := n.sendWithFallback(ctx, conv, domain.NoticeVideoReady(conv.VideoURL), conv.VideoURL)
	resetErr := n.reset(ctx, conv, domain.StateCompleted)
	return errors.Join(sendErr, resetErr)
}

// NotifyFailure sends an apology, then resets the conversation from failed.
func (n *Notifier) NotifyFailure(ctx context.Context, conv domain.Conversation, kind FailureKind) error {
	_, sendErr := n.sender.Send(ctx, domain.OutboundMessage{To: conv.PhoneNumber, Body: kind.message()})
	if sendErr != nil {
		log.Error().Err(sendErr).Str("conversationId", conv.ID).Msg("failure notice not delivered")
		sendErr = fmt.Errorf("notifier: send failure notice: %w", sendErr)
	}
	resetErr := n.reset(ctx, conv, domain.StateFailed)
	return errors.Join(sendErr, resetErr)
}

// sendWithFallback tries an MMS first and falls back to text when the
// provider rejects the media.
func (n *Notifier) sendWithFallback(ctx context.Context, conv domain.Conversation, body, mediaURL string) error {
	msg := domain.OutboundMessage{To: conv.PhoneNumber, Body: body, MediaURL: mediaURL}
	if mediaURL != "" {
		_, err := n.sender.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("notifier: send: %w", err)
		}
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("media message rejected, retrying as text")
		msg.MediaURL = ""
	}
	if _, err := n.sender.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("text message not delivered")
		return fmt.Errorf("notifier: send: %w", err)
	}
	return nil
}

// reset returns the conversation to waiting_for_image if it is still in the
// state the job left it in. A conversation that moved on is left alone.
func (n *Notifier) reset(ctx context.Context, conv domain.Conversation, expected domain.State) error {
	_, err := repository.Mutate(ctx, n.repo, conv.Key(), func(c *domain.Conversation) error {
		if c.State != expected {
			return repository.ErrStale
		}
		c.Reset()
		return nil
	})
	if errors.Is(err, repository.ErrStale) {
		log.Info().Str("conversationId", conv.ID).Str("expected", string(expected)).Msg("conversation moved on, skipping reset")
		return nil
	}
	if err != nil {
		return fmt.Errorf("notifier: reset: %w", err)
	}
	return nil
}
