package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"dreamr/internal/domain"
)

// Memory is an in-process ReadWriter with the same compare-and-set contract
// as Client. It backs local runs and tests.
type Memory struct {
	mu    sync.Mutex
	byKey map[domain.ConversationKey]domain.Conversation
	now   func() time.Time
}

var _ ReadWriter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byKey: make(map[domain.ConversationKey]domain.Conversation),
		now:   time.Now,
	}
}

func (m *Memory) LatestByPhone(_ context.Context, phoneNumber string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []domain.Conversation
	for k, conv := range m.byKey {
		if k.PhoneNumber == phoneNumber {
			matches = append(matches, conv)
		}
	}
	if len(matches) == 0 {
		return domain.Conversation{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches[0], nil
}

func (m *Memory) Get(_ context.Context, key domain.ConversationKey) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.byKey[normalize(key)]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (m *Memory) Insert(_ context.Context, conv *domain.Conversation) error {
	if conv.ID == "" || conv.PhoneNumber == "" {
		return errors.New("repository: Insert: id and phone number are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalize(conv.Key())
	if _, exists := m.byKey[key]; exists {
		return ErrVersionConflict
	}
	next := *conv
	next.Version = 1
	next.UpdatedAt = m.now().UTC()
	m.byKey[key] = next
	*conv = next
	return nil
}

func (m *Memory) Update(_ context.Context, conv *domain.Conversation) error {
	if !conv.State.Valid() {
		return errors.New("repository: Update: invalid state " + string(conv.State))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalize(conv.Key())
	current, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != conv.Version {
		return ErrVersionConflict
	}
	next := *conv
	next.Version++
	next.UpdatedAt = m.now().UTC()
	m.byKey[key] = next
	*conv = next
	return nil
}

// normalize drops the monotonic clock reading so keys compare by instant.
func normalize(key domain.ConversationKey) domain.ConversationKey {
	key.CreatedAt = key.CreatedAt.UTC().Round(0)
	return key
}
