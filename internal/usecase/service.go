package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/httpclient"
	"dreamr/internal/repository"
	"dreamr/internal/storage"
)

const maxWriteAttempts = 3

type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error)
}

type ArtifactStore interface {
	ObjectKey(kind storage.Kind, conversationID, suffix, ext string) string
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)
}

// Moderator screens free-text prompts. Flagged prompts are refused.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Dispatcher hands long-running work to the background.
type Dispatcher interface {
	StartEdit(ctx context.Context, conv domain.Conversation, prompt string)
	StartVideo(ctx context.Context, conv domain.Conversation)
	Cancel(conversationID string)
}

// Reply is the immediate text answer to an inbound message.
type Reply struct {
	Text string
}

type ConversationService struct {
	repo      repository.ReadWriter
	media     MediaDownloader
	store     ArtifactStore
	jobs      Dispatcher
	moderator Moderator
	intents   IntentMatcher
}

type ServiceOption func(*ConversationService)

// WithModerator screens edit and video prompts before they are accepted.
func WithModerator(m Moderator) ServiceOption {
	return func(s *ConversationService) {
		s.moderator = m
	}
}

func WithIntentMatcher(m IntentMatcher) ServiceOption {
	return func(s *ConversationService) {
		s.intents = m
	}
}

func NewConversationService(repo repository.ReadWriter, media MediaDownloader, store ArtifactStore, jobs Dispatcher, opts ...ServiceOption) (*ConversationService, error) {
	if repo == nil {
		return nil, errors.New("usecase: repository must not be nil")
	}
	if media == nil {
		return nil, errors.New("usecase: media downloader must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: artifact store must not be nil")
	}
	if jobs == nil {
		return nil, errors.New("usecase: dispatcher must not be nil")
	}
	s := &ConversationService{
		repo:    repo,
		media:   media,
		store:   store,
		jobs:    jobs,
		intents: NewIntentMatcher(nil, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleInbound advances the sender's conversation by one message and
// returns the text to answer with. Problems the user can fix are answered
// with a corrective reply rather than an error.
func (s *ConversationService) HandleInbound(ctx context.Context, msg domain.InboundMessage) (Reply, error) {
	from := strings.TrimSpace(msg.From)
	if from == "" {
		return Reply{}, newError(ErrorInvalidInput, "missing_sender", nil)
	}
	conv, err := s.loadOrCreate(ctx, from)
	if err != nil {
		return Reply{}, newError(ErrorUpstream, "conversation_load_error", err)
	}

	logger := log.With().Str("conversationId", conv.ID).Str("state", string(conv.State)).Str("messageSid", msg.MessageSID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Bool("hasImage", msg.HasImage()).Msg("inbound message")

	if msg.HasImage() {
		return s.handleImage(ctx, conv, msg)
	}
	return s.handleText(ctx, conv, strings.TrimSpace(msg.Body))
}

func (s *ConversationService) loadOrCreate(ctx context.Context, phone string) (domain.Conversation, error) {
	conv, err := s.repo.LatestByPhone(ctx, phone)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Conversation{}, err
	}

	conv = domain.NewConversation(newUUID(), phone, now())
	if err := s.repo.Insert(ctx, &conv); err != nil {
		return domain.Conversation{}, err
	}
	log.Ctx(ctx).Info().Str("conversationId", conv.ID).Msg("conversation created")
	return conv, nil
}

func (s *ConversationService) handleImage(ctx context.Context, conv domain.Conversation, msg domain.InboundMessage) (Reply, error) {
	logger := log.Ctx(ctx)

	data, contentType, err := s.media.DownloadMedia(ctx, msg.MediaURL, MaxImageBytes)
	if errors.Is(err, httpclient.ErrTooLarge) {
		return Reply{Text: domain.ReplyImageTooLarge}, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("media download failed")
		return Reply{Text: domain.ReplyImageError}, nil
	}

	declared := msg.MediaContentType
	if declared == "" {
		declared = contentType
	}
	contentType, err = validateImage(data, declared)
	if err != nil {
		logger.Info().Err(err).Str("contentType", declared).Int("bytes", len(data)).Msg("image rejected")
		var ue *Error
		errors.As(err, &ue)
		switch ue.Reason {
		case "image_too_large":
			return Reply{Text: domain.ReplyImageTooLarge}, nil
		case "empty_image":
			return Reply{Text: domain.ReplyImageError}, nil
		default:
			return Reply{Text: domain.ReplyUnsupportedType}, nil
		}
	}

	key := s.store.ObjectKey(storage.KindImage, conv.ID, "", imageExtension(contentType))
	imageURL, err := s.store.Upload(ctx, key, data, contentType)
	if err != nil {
		logger.Error().Err(err).Msg("image upload failed")
		return Reply{Text: domain.ReplyImageError}, nil
	}

	_, err = repository.Mutate(ctx, s.repo, conv.Key(), func(c *domain.Conversation) error {
		c.StartWithImage(imageURL)
		return nil
	})
	if err != nil {
		return Reply{}, writeError(err)
	}
	// The running job, if any, still owns the conversation until the new
	// image is stored.
	s.jobs.Cancel(conv.ID)
	logger.Info().Str("imageUrl", imageURL).Msg("image accepted")
	return Reply{Text: domain.ReplyImageReceived}, nil
}

// transition is the outcome of reading one text message in one state.
type transition struct {
	reply string
	// apply is nil when the message leaves the conversation untouched.
	apply func(*domain.Conversation)
	// dispatch runs after apply has been persisted.
	dispatch func(ctx context.Context, conv domain.Conversation)
	// prompt is screened by the moderator before apply.
	prompt string
}

func (s *ConversationService) decide(conv domain.Conversation, text string) transition {
	switch conv.State {
	case domain.StateWaitingForEditPrompt:
		if text == "" {
			return transition{reply: domain.ReplyAskEditPrompt}
		}
		return transition{
			reply:  domain.ReplyEditStarted,
			prompt: text,
			apply: func(c *domain.Conversation) {
				c.OperationID = ""
				c.State = domain.StateProcessingEdit
			},
			dispatch: func(ctx context.Context, c domain.Conversation) {
				s.jobs.StartEdit(ctx, c, text)
			},
		}

	case domain.StateWaitingForVideoDecision:
		switch s.intents.Classify(text) {
		case IntentProceed:
			return transition{
				reply: domain.ReplyAskVideoPrompt,
				apply: func(c *domain.Conversation) { c.State = domain.StateWaitingForVideoPrompt },
			}
		case IntentEdit:
			return transition{
				reply: domain.ReplyAskEditChange,
				apply: func(c *domain.Conversation) { c.State = domain.StateWaitingForEditPrompt },
			}
		default:
			return transition{reply: domain.ReplyDecisionMenu}
		}

	case domain.StateWaitingForVideoPrompt:
		if text == "" {
			return transition{reply: domain.ReplyRepeatVideoAsk}
		}
		return transition{
			reply:  domain.ReplyVideoStarted,
			prompt: text,
			apply: func(c *domain.Conversation) {
				c.VideoPrompt = text
				c.OperationID = ""
				c.State = domain.StateGeneratingVideo
			},
			dispatch: func(ctx context.Context, c domain.Conversation) {
				s.jobs.StartVideo(ctx, c)
			},
		}

	case domain.StateProcessingEdit:
		return transition{reply: domain.ReplyStillEditing}

	case domain.StateGeneratingVideo:
		return transition{reply: domain.ReplyStillGenerating}

	default:
		if conv.State == domain.StateWaitingForImage && conv.ImageURL == "" && conv.VideoPrompt == "" &&
			conv.VideoURL == "" && conv.OperationID == "" {
			return transition{reply: domain.ReplyStartFresh}
		}
		return transition{reply: domain.ReplyStartFresh, apply: (*domain.Conversation).Reset}
	}
}

func (s *ConversationService) handleText(ctx context.Context, conv domain.Conversation, text string) (Reply, error) {
	logger := log.Ctx(ctx)
	screened := false

	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		t := s.decide(conv, text)

		if t.prompt != "" && !screened {
			screened = true
			if s.flagged(ctx, t.prompt) {
				return Reply{Text: domain.ReplyPromptRejected}, nil
			}
		}
		if t.apply == nil {
			return Reply{Text: t.reply}, nil
		}

		next := conv
		t.apply(&next)
		err := s.repo.Update(ctx, &next)
		if err == nil {
			logger.Info().Str("from", string(conv.State)).Str("to", string(next.State)).Msg("state changed")
			if t.dispatch != nil {
				t.dispatch(ctx, next)
			}
			return Reply{Text: t.reply}, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return Reply{}, writeError(err)
		}

		lastErr = err
		logger.Warn().Int("attempt", attempt+1).Msg("conversation changed underneath, re-reading")
		conv, err = s.repo.Get(ctx, conv.Key())
		if err != nil {
			return Reply{}, newError(ErrorUpstream, "conversation_load_error", err)
		}
	}
	return Reply{}, newError(ErrorConflict, "version_conflict", lastErr)
}

// flagged fails open: an unavailable moderator never blocks a prompt.
func (s *ConversationService) flagged(ctx context.Context, prompt string) bool {
	if s.moderator == nil {
		return false
	}
	flagged, err := s.moderator.Moderate(ctx, prompt)
	if err != nil {
		ev := log.Ctx(ctx).Warn().Err(err)
		if status, ok := httpclient.StatusCode(err); ok {
			ev = ev.Int("status", status)
		}
		ev.Msg("moderation unavailable, accepting prompt")
		return false
	}
	if flagged {
		log.Ctx(ctx).Info().Msg("prompt flagged by moderation")
	}
	return flagged
}

func writeError(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return newError(ErrorConflict, "version_conflict", err)
	}
	return newError(ErrorUpstream, "conversation_write_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
