package repository

import (
	"context"
	"errors"
	"fmt"

	"dreamr/internal/domain"
)

var (
	// ErrNotFound is returned when no conversation matches the lookup.
	ErrNotFound = errors.New("repository: conversation not found")
	// ErrVersionConflict is returned when a compare-and-set write lost a race.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrStale is returned by Mutate callbacks to abandon a write because the
	// conversation has moved on.
	ErrStale = errors.New("repository: conversation moved on")
)

// maxMutateAttempts bounds the re-read/re-apply loop on version conflicts.
const maxMutateAttempts = 3

// ReadWriter defines the conversation operations shared by the webhook and
// the background jobs.
type ReadWriter interface {
	LatestByPhone(ctx context.Context, phoneNumber string) (domain.Conversation, error)
	Get(ctx context.Context, key domain.ConversationKey) (domain.Conversation, error)
	Insert(ctx context.Context, conv *domain.Conversation) error
	Update(ctx context.Context, conv *domain.Conversation) error
}

// GetUpdater is the part of ReadWriter that Mutate needs.
type GetUpdater interface {
	Get(ctx context.Context, key domain.ConversationKey) (domain.Conversation, error)
	Update(ctx context.Context, conv *domain.Conversation) error
}

// Mutate re-reads a conversation, applies fn and writes the result with
// compare-and-set, retrying from a fresh read on version conflicts.
// If fn returns an error (ErrStale included) nothing is written.
func Mutate(ctx context.Context, rw GetUpdater, key domain.ConversationKey, fn func(*domain.Conversation) error) (domain.Conversation, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		conv, err := rw.Get(ctx, key)
		if err != nil {
			return domain.Conversation{}, err
		}
		if err := fn(&conv); err != nil {
			return domain.Conversation{}, err
		}
		err = rw.Update(ctx, &conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return domain.Conversation{}, err
		}
		lastErr = err
	}
	return domain.Conversation{}, fmt.Errorf("repository: Mutate gave up after %d attempts: %w", maxMutateAttempts, lastErr)
}
