// Package channels defines the transport interface and message types used by
// the ZapFlow bot. The WhatsApp implementation lives in the whatsapp
// subpackage; the bot core only sees these types, so transports stay
// swappable and testable.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageOther    MessageType = "other"
)

// Transport is the messaging surface the bot core depends on.
// It assumes a connected, authenticated session; QR login and
// reconnection are the implementation's concern.
type Transport interface {
	// Name returns the transport identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Reply sends text quoting the original incoming message.
	Reply(ctx context.Context, original *IncomingMessage, text string) error

	// SendDirect sends text to a chat without quoting anything.
	// Used as the fallback path when Reply fails.
	SendDirect(ctx context.Context, chatID, text string) error

	// SendImage sends image bytes with a caption.
	SendImage(ctx context.Context, chatID string, data []byte, caption string) error

	// SendTyping shows a "typing..." indicator in the chat.
	SendTyping(ctx context.Context, chatID string) error

	// DownloadMedia fetches the media payload of an incoming message.
	// Returns the raw bytes and MIME type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports whether the transport session is up.
	IsConnected() bool
}

// IncomingMessage represents one inbound transport event.
type IncomingMessage struct {
	// ID is the unique message identifier in the source transport.
	ID string

	// FromSelf is true for messages sent by the bot's own identity.
	FromSelf bool

	// ChatID is the conversation identifier (DM or group JID).
	ChatID string

	// Phone is the sender's phone number derived from the JID
	// (digits only, no server suffix). Empty for non-phone senders.
	Phone string

	// PushName is the sender's display name, if the platform provides one.
	PushName string

	// IsGroup indicates a group conversation.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text body (plain or quoted-reply text),
	// or the caption for media messages.
	Content string

	// IsVoiceNote is true for push-to-talk audio messages.
	IsVoiceNote bool

	// Media carries download details when the message has a payload.
	Media *MediaInfo

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// MediaInfo describes media attached to an incoming message.
// The whatsapp fields (MediaKey, DirectPath, hashes) are what whatsmeow
// needs to download and decrypt the payload.
type MediaInfo struct {
	Type          MessageType
	MimeType      string
	FileSize      uint64
	Caption       string
	Duration      uint32
	URL           string
	DirectPath    string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
}

// Errors.
var (
	ErrTransportDisconnected = fmt.Errorf("transport is not connected")
	ErrNoMedia               = fmt.Errorf("message has no media payload")
)
