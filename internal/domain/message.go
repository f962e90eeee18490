package domain

import "strings"

// InboundMessage is one SMS/MMS delivered to the webhook.
type InboundMessage struct {
	MessageSID       string
	From             string
	To               string
	Body             string
	NumMedia         int
	MediaURL         string
	MediaContentType string
}

// HasImage reports whether the message carries a media attachment to process.
func (m InboundMessage) HasImage() bool {
	return m.NumMedia > 0 && strings.TrimSpace(m.MediaURL) != ""
}

// OutboundMessage is a message pushed to a user outside of a webhook reply.
type OutboundMessage struct {
	To       string
	Body     string
	MediaURL string
}
