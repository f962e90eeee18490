package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dreamr/internal/domain"
	"dreamr/internal/repository"
)

type fakeSender struct {
	sent []domain.OutboundMessage
	errs []error
}

func (f *fakeSender) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	f.sent = append(f.sent, msg)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	return "SM1", nil
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, state domain.State) (*repository.Memory, domain.Conversation) {
	t.Helper()
	repo := repository.NewMemory()
	conv := domain.NewConversation("c1", "+15551112222", created)
	require.NoError(t, repo.Insert(context.Background(), &conv))
	conv.ImageURL = "https://cdn/images/c1.jpg"
	conv.VideoPrompt = "zebra galloping"
	conv.VideoURL = "https://cdn/videos/c1.mp4"
	conv.State = state
	require.NoError(t, repo.Update(context.Background(), &conv))
	return repo, conv
}

func requireReset(t *testing.T, repo *repository.Memory, key domain.ConversationKey) {
	t.Helper()
	got, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, domain.StateWaitingForImage, got.State)
	require.Empty(t, got.ImageURL)
	require.Empty(t, got.VideoPrompt)
	require.Empty(t, got.VideoURL)
	require.Empty(t, got.OperationID)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, repository.NewMemory())
	require.Error(t, err)
	_, err = New(&fakeSender{}, nil)
	require.Error(t, err)
}

func TestNotifyVideo_MMS(t *testing.T) {
	repo, conv := seed(t, domain.StateCompleted)
	sender := &fakeSender{}
	n, err := New(sender, repo)
	require.NoError(t, err)

	require.NoError(t, n.NotifyVideo(context.Background(), conv))
	require.Len(t, sender.sent, 1)
	require.Equal(t, "https://cdn/videos/c1.mp4", sender.sent[0].MediaURL)
	require.Contains(t, sender.sent[0].Body, "https://cdn/videos/c1.mp4")
	requireReset(t, repo, conv.Key())
}

func TestNotifyVideo_FallsBackToText(t *testing.T) {
	repo, conv := seed(t, domain.StateCompleted)
	sender := &fakeSender{errs: []error{errors.New("twilio: unexpected status 400")}}
	n, err := New(sender, repo)
	require.NoError(t, err)

	require.NoError(t, n.NotifyVideo(context.Background(), conv))
	require.Len(t, sender.sent, 2)
	require.Empty(t, sender.sent[1].MediaURL)
	require.Equal(t, sender.sent[0].Body, sender.sent[1].Body)
	requireReset(t, repo, conv.Key())
}

func TestNotifyVideo_ResetsEvenWhenDeliveryFails(t *testing.T) {
	repo, conv := seed(t, domain.StateCompleted)
	sender := &fakeSender{errs: []error{errors.New("mms down"), errors.New("sms down")}}
	n, err := New(sender, repo)
	require.NoError(t, err)

	err = n.NotifyVideo(context.Background(), conv)
	require.ErrorContains(t, err, "sms down")
	requireReset(t, repo, conv.Key())
}

func TestNotifyFailure(t *testing.T) {
	cases := []struct {
		kind FailureKind
		want string
	}{
		{FailureEdit, domain.NoticeEditFailed},
		{FailureVideo, domain.NoticeVideoFailed},
		{FailureModerated, domain.NoticeModerated},
	}
	for _, tc := range cases {
		repo, conv := seed(t, domain.StateFailed)
		sender := &fakeSender{}
		n, err := New(sender, repo)
		require.NoError(t, err)

		require.NoError(t, n.NotifyFailure(context.Background(), conv, tc.kind))
		require.Len(t, sender.sent, 1)
		require.Equal(t, tc.want, sender.sent[0].Body)
		require.Empty(t, sender.sent[0].MediaURL)
		requireReset(t, repo, conv.Key())
	}
}

func TestNotifyFailure_SkipsResetWhenConversationMovedOn(t *testing.T) {
	repo, conv := seed(t, domain.StateWaitingForEditPrompt)
	n, err := New(&fakeSender{}, repo)
	require.NoError(t, err)

	require.NoError(t, n.NotifyFailure(context.Background(), conv, FailureVideo))
	got, err := repo.Get(context.Background(), conv.Key())
	require.NoError(t, err)
	require.Equal(t, domain.StateWaitingForEditPrompt, got.State)
	require.Equal(t, "https://cdn/images/c1.jpg", got.ImageURL)
}

func TestNotifyEdited_KeepsDecisionState(t *testing.T) {
	repo, conv := seed(t, domain.StateWaitingForVideoDecision)
	sender := &fakeSender{errs: []error{errors.New("media rejected")}}
	n, err := New(sender, repo)
	require.NoError(t, err)

	require.NoError(t, n.NotifyEdited(context.Background(), conv))
	require.Len(t, sender.sent, 2)
	require.Equal(t, "https://cdn/images/c1.jpg", sender.sent[0].MediaURL)
	require.Equal(t, domain.NoticeEditedImage, sender.sent[1].Body)

	got, err := repo.Get(context.Background(), conv.Key())
	require.NoError(t, err)
	require.Equal(t, domain.StateWaitingForVideoDecision, got.State)
}
