// Package transport defines the messaging-transport contract the
// router consumes. The transport client itself (connection, auth,
// encryption) is owned by a third-party library behind this
// interface; adapters live in subpackages.
package transport

import (
	"context"
	"time"
)

// Message is one inbound chat event, normalized across transports.
type Message struct {
	// ID is the transport's message identifier.
	ID string
	// Sender is the raw sender identity (digit routing number plus
	// transport suffix).
	Sender string
	// Conversation is the raw conversation identity. Its suffix
	// pattern encodes the conversation category (individual, group,
	// broadcast).
	Conversation string
	// Text is the message body, or the media caption.
	Text string
	// Kind is the message kind: "text", "image", "document", "voice",
	// "video".
	Kind string
	// Timestamp is the transport-reported send time.
	Timestamp time.Time
	// FromSelf marks an echo of the bot's own outgoing traffic.
	FromSelf bool
	// Media is the attached payload, nil when the message carries none.
	Media *Media
}

// HasMedia reports whether the message carries a media payload.
func (m *Message) HasMedia() bool {
	return m.Media != nil && len(m.Media.Data) > 0
}

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// Transport delivers inbound message events and sends replies. Start
// blocks until the context is canceled; Messages is closed when the
// transport stops.
type Transport interface {
	// Start connects and begins delivering inbound events. It blocks
	// until ctx is canceled or the connection fails.
	Start(ctx context.Context) error

	// Messages returns the inbound event stream. The transport
	// delivers one message at a time.
	Messages() <-chan Message

	// SendText sends a text reply to a conversation.
	SendText(ctx context.Context, conversationID, text string) error

	// SendMedia sends a media payload with an optional caption.
	SendMedia(ctx context.Context, conversationID string, media Media, caption string) error

	// SendTyping shows a transient typing indicator in a conversation.
	SendTyping(ctx context.Context, conversationID string) error

	// SelfID returns the bot's own raw identity, for echo detection
	// and owner bootstrap.
	SelfID() string
}
