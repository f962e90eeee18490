package domain

import "fmt"

// User-facing texts. Both the webhook replies and the background
// notifications draw from here so the wording stays consistent.
const (
	ReplyImageReceived   = `Great! I received your image. What do you want to do with this image? Please describe how you'd like to edit it (e.g., "add a sunset background", "make it look like a painting", "change the lighting").`
	ReplyEditStarted     = "Perfect! I'm editing your image now. This may take a moment..."
	ReplyAskEditPrompt   = `Please describe how you'd like to edit your image (e.g., "add a sunset background", "make it look like a painting").`
	ReplyAskVideoPrompt  = `Great! Now, how would you like to animate this edited image? Please describe the animation you want (e.g., "zebra galloping at high speeds").`
	ReplyAskEditChange   = "What would you like to change about the image? Please describe the edit you want to make."
	ReplyDecisionMenu    = "Would you like to:\n• \"Proceed to video\" - to animate this edited image\n• \"Make another edit\" - to further modify the image"
	ReplyVideoStarted    = "Perfect! I'm now generating your video. This may take a few minutes. I'll send you the result once it's ready."
	ReplyRepeatVideoAsk  = `Please describe how you'd like to animate your image (e.g., "zebra galloping at high speeds").`
	ReplyStillEditing    = "I'm still working on editing your image. Please wait a moment..."
	ReplyStillGenerating = "I'm still working on your video. Please wait a moment..."
	ReplyStartFresh      = "Let's start fresh! Please send me an image that you'd like to edit and animate into a video."
	ReplyUnsupportedType = "Please send a JPEG or PNG image file for video generation."
	ReplyImageTooLarge   = "That image is too large. Please send a JPEG or PNG under 10MB."
	ReplyImageError      = "Sorry, there was an error processing your image. Please try again."
	ReplyPromptRejected  = "Sorry, I can't work with that description. Please try describing it differently."
	ReplyGenericError    = "Sorry, there was an error processing your request. Please try again."

	NoticeEditedImage   = "Here's your edited image! " + ReplyDecisionMenu
	NoticeEditFailed    = "Sorry, there was an error editing your image. Please try again with a new image."
	NoticeVideoFailed   = "Sorry, there was an error generating your video. Please try again with a new image."
	NoticeModerated     = "Sorry, your request was blocked by the content filter. Please try again with a different image or description."
	noticeVideoReadyFmt = "🎬 Your video is ready! Watch it here: %s\n\nSend me another image to create more videos!"
)

// NoticeVideoReady is the completion text carrying the video link.
func NoticeVideoReady(videoURL string) string {
	return fmt.Sprintf(noticeVideoReadyFmt, videoURL)
}
