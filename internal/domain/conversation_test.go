package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestState_Valid(t *testing.T) {
	require.True(t, StateGeneratingVideo.Valid())
	require.False(t, State("archived").Valid())
	require.False(t, State("").Valid())
}

func TestState_InProgress(t *testing.T) {
	require.True(t, StateProcessingEdit.InProgress())
	require.True(t, StateGeneratingVideo.InProgress())
	require.False(t, StateWaitingForVideoDecision.InProgress())
	require.False(t, StateFailed.InProgress())
}

func TestNewConversation(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	now := time.Date(2026, 3, 1, 4, 0, 0, 0, loc)

	c := NewConversation("c1", "+15551112222", now)
	require.Equal(t, StateWaitingForImage, c.State)
	require.Equal(t, time.UTC, c.CreatedAt.Location())
	require.True(t, c.CreatedAt.Equal(now))
	require.Zero(t, c.Version)
}

func TestStartWithImage_ClearsDerivedFields(t *testing.T) {
	c := Conversation{
		State:       StateGeneratingVideo,
		ImageURL:    "old",
		VideoPrompt: "waves",
		VideoURL:    "video",
		OperationID: "op-1",
	}
	c.StartWithImage("new")
	require.Equal(t, StateWaitingForEditPrompt, c.State)
	require.Equal(t, "new", c.ImageURL)
	require.Empty(t, c.VideoPrompt)
	require.Empty(t, c.VideoURL)
	require.Empty(t, c.OperationID)
}

func TestResetAndFail(t *testing.T) {
	c := Conversation{State: StateGeneratingVideo, ImageURL: "img", VideoPrompt: "waves", OperationID: "op-1"}
	c.Fail()
	require.Equal(t, StateFailed, c.State)
	require.Empty(t, c.OperationID)
	require.Equal(t, "img", c.ImageURL)

	c.Reset()
	require.Equal(t, Conversation{State: StateWaitingForImage}, c)
}

func TestInboundMessage_HasImage(t *testing.T) {
	require.True(t, InboundMessage{NumMedia: 1, MediaURL: "https://m"}.HasImage())
	require.False(t, InboundMessage{NumMedia: 1}.HasImage())
	require.False(t, InboundMessage{MediaURL: "https://m"}.HasImage())
}

func TestNoticeVideoReady(t *testing.T) {
	require.Contains(t, NoticeVideoReady("https://cdn/v.mp4"), "https://cdn/v.mp4")
}
