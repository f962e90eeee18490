package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"dreamr/internal/domain"
	"dreamr/internal/integrations/bfl"
	"dreamr/internal/integrations/veo"
	"dreamr/internal/repository"
	"dreamr/internal/storage"
)

var (
	created   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00")
)

type mockMedia struct {
	data        []byte
	contentType string
	err         error
	requested   []string
}

func (m *mockMedia) DownloadMedia(_ context.Context, mediaURL string, _ int64) ([]byte, string, error) {
	m.requested = append(m.requested, mediaURL)
	return m.data, m.contentType, m.err
}

type storedObject struct {
	data        []byte
	contentType string
}

type mockStore struct {
	mu        sync.Mutex
	objects   map[string]storedObject
	fetchErr  map[string]error
	uploadErr error
	seq       int
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string]storedObject), fetchErr: make(map[string]error)}
}

func (m *mockStore) put(url string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = storedObject{data: data, contentType: contentType}
}

func (m *mockStore) get(url string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[url]
	return obj, ok
}

func (m *mockStore) ObjectKey(kind storage.Kind, conversationID, suffix, ext string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if suffix != "" {
		return fmt.Sprintf("%s/%s-%d-%s.%s", kind, conversationID, m.seq, suffix, ext)
	}
	return fmt.Sprintf("%s/%s-%d.%s", kind, conversationID, m.seq, ext)
}

func (m *mockStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	url := "https://cdn.test/" + key
	m.put(url, data, contentType)
	return url, nil
}

func (m *mockStore) Fetch(_ context.Context, url string, _ int64) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErr[url]; err != nil {
		return nil, "", err
	}
	obj, ok := m.objects[url]
	if !ok {
		return nil, "", fmt.Errorf("storage: Fetch: %s not found", url)
	}
	return obj.data, obj.contentType, nil
}

type editCall struct {
	conv   domain.Conversation
	prompt string
}

type mockDispatcher struct {
	edits    []editCall
	videos   []domain.Conversation
	canceled []string
}

func (m *mockDispatcher) StartEdit(_ context.Context, conv domain.Conversation, prompt string) {
	m.edits = append(m.edits, editCall{conv: conv, prompt: prompt})
}

func (m *mockDispatcher) StartVideo(_ context.Context, conv domain.Conversation) {
	m.videos = append(m.videos, conv)
}

func (m *mockDispatcher) Cancel(conversationID string) {
	m.canceled = append(m.canceled, conversationID)
}

type mockModerator struct {
	flagged bool
	err     error
	inputs  []string
}

func (m *mockModerator) Moderate(_ context.Context, input string) (bool, error) {
	m.inputs = append(m.inputs, input)
	return m.flagged, m.err
}

type mockEditor struct {
	submitErr error
	results   []bfl.Result
	pollErrs  []error
	prompts   []string
	polls     int
	// gate, when set, blocks Poll until it is closed or ctx ends.
	gate chan struct{}
}

func (m *mockEditor) Submit(_ context.Context, prompt string, _ []byte) (bfl.Job, error) {
	m.prompts = append(m.prompts, prompt)
	if m.submitErr != nil {
		return bfl.Job{}, m.submitErr
	}
	return bfl.Job{ID: "job-1", PollingURL: "https://bfl.test/poll/job-1"}, nil
}

func (m *mockEditor) Poll(ctx context.Context, _ string) (bfl.Result, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return bfl.Result{}, ctx.Err()
		}
	}
	i := m.polls
	m.polls++
	if i < len(m.pollErrs) && m.pollErrs[i] != nil {
		return bfl.Result{}, m.pollErrs[i]
	}
	if i >= len(m.results) {
		return bfl.Result{ID: "job-1", Status: bfl.StatusPending}, nil
	}
	return m.results[i], nil
}

type mockVideo struct {
	generateErr error
	operations  []veo.Operation
	fetchErrs   []error
	fetches     int
	tokensSeen  []string
	prompts     []string
	mimeTypes   []string
	video       []byte
	downloadErr error
	// onGenerate runs after Generate accepts the request.
	onGenerate func()
}

const operationName = "projects/p/locations/us-central1/publishers/google/models/veo/operations/op-42"

func (m *mockVideo) Generate(_ context.Context, _, prompt string, _ []byte, mimeType string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.mimeTypes = append(m.mimeTypes, mimeType)
	if m.generateErr != nil {
		return "", m.generateErr
	}
	if m.onGenerate != nil {
		m.onGenerate()
	}
	return operationName, nil
}

func (m *mockVideo) FetchOperation(_ context.Context, token, _ string) (veo.Operation, error) {
	i := m.fetches
	m.fetches++
	m.tokensSeen = append(m.tokensSeen, token)
	if i < len(m.fetchErrs) && m.fetchErrs[i] != nil {
		return veo.Operation{}, m.fetchErrs[i]
	}
	if i >= len(m.operations) {
		return veo.Operation{Name: operationName}, nil
	}
	return m.operations[i], nil
}

func (m *mockVideo) Download(_ context.Context, _, _ string) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	return m.video, nil
}

type mockTokens struct {
	issued int
	err    error
}

func (m *mockTokens) Token(_ context.Context) (*oauth2.Token, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.issued++
	return &oauth2.Token{AccessToken: fmt.Sprintf("token-%d", m.issued), TokenType: "Bearer"}, nil
}

type mockSender struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	// states records the stored conversation state at each send.
	states []domain.State
	repo   *repository.Memory
	key    domain.ConversationKey
}

func (m *mockSender) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if m.repo != nil {
		conv, err := m.repo.Get(ctx, m.key)
		if err != nil {
			return "", err
		}
		m.states = append(m.states, conv.State)
	}
	return fmt.Sprintf("SM%d", len(m.sent)), nil
}

func (m *mockSender) messages() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboundMessage(nil), m.sent...)
}

// seedConversation stores a conversation in the given state.
func seedConversation(t *testing.T, repo *repository.Memory, state domain.State, mutate func(*domain.Conversation)) domain.Conversation {
	t.Helper()
	ctx := context.Background()
	conv := domain.NewConversation("c1", "+15551112222", created)
	require.NoError(t, repo.Insert(ctx, &conv))
	conv.State = state
	if mutate != nil {
		mutate(&conv)
	}
	require.NoError(t, repo.Update(ctx, &conv))
	return conv
}

func stored(t *testing.T, repo *repository.Memory, conv domain.Conversation) domain.Conversation {
	t.Helper()
	got, err := repo.Get(context.Background(), conv.Key())
	require.NoError(t, err)
	return got
}

var errBoom = errors.New("boom")
