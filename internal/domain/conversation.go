package domain

import "time"

// State is the position of a conversation in the image → edit → video workflow.
type State string

const (
	StateWaitingForImage         State = "waiting_for_image"
	StateWaitingForEditPrompt    State = "waiting_for_edit_prompt"
	StateProcessingEdit          State = "processing_edit"
	StateWaitingForVideoDecision State = "waiting_for_video_decision"
	StateWaitingForVideoPrompt   State = "waiting_for_video_prompt"
	StateGeneratingVideo         State = "generating_video"
	StateCompleted               State = "completed"
	StateFailed                  State = "failed"
)

var knownStates = map[State]struct{}{
	StateWaitingForImage:         {},
	StateWaitingForEditPrompt:    {},
	StateProcessingEdit:          {},
	StateWaitingForVideoDecision: {},
	StateWaitingForVideoPrompt:   {},
	StateGeneratingVideo:         {},
	StateCompleted:               {},
	StateFailed:                  {},
}

// Valid reports whether s is one of the enumerated states.
func (s State) Valid() bool {
	_, ok := knownStates[s]
	return ok
}

// InProgress reports whether a background job owns the conversation.
func (s State) InProgress() bool {
	return s == StateProcessingEdit || s == StateGeneratingVideo
}

// Conversation is the single mutable record per phone number.
// Empty strings stand for unset (null) fields.
type Conversation struct {
	ID          string
	PhoneNumber string
	State       State
	ImageURL    string
	VideoPrompt string
	VideoURL    string
	OperationID string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Version is bumped on every successful write and is the
	// compare-and-set guard for concurrent updates.
	Version int64
}

// ConversationKey identifies one stored conversation record.
type ConversationKey struct {
	PhoneNumber string
	CreatedAt   time.Time
	ID          string
}

func (c Conversation) Key() ConversationKey {
	return ConversationKey{PhoneNumber: c.PhoneNumber, CreatedAt: c.CreatedAt, ID: c.ID}
}

// NewConversation returns a fresh record in the initial state.
func NewConversation(id, phoneNumber string, now time.Time) Conversation {
	return Conversation{
		ID:          id,
		PhoneNumber: phoneNumber,
		State:       StateWaitingForImage,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// StartWithImage restarts the workflow around a newly received image.
func (c *Conversation) StartWithImage(imageURL string) {
	c.ImageURL = imageURL
	c.VideoPrompt = ""
	c.VideoURL = ""
	c.OperationID = ""
	c.State = StateWaitingForEditPrompt
}

// Reset clears every derived field and returns to waiting_for_image.
func (c *Conversation) Reset() {
	c.ImageURL = ""
	c.VideoPrompt = ""
	c.VideoURL = ""
	c.OperationID = ""
	c.State = StateWaitingForImage
}

// Fail marks the conversation failed and drops the in-flight job handle.
func (c *Conversation) Fail() {
	c.OperationID = ""
	c.State = StateFailed
}
