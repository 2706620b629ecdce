// Package session implements the per-chat conversation store: flow state,
// collected profile data, the bounded history buffer, and pending
// registration records. All mutation goes through the Store, which is the
// sole owner of these records and provides per-chat mutual exclusion so
// concurrent messages from the same chat never interleave read-modify-write
// sequences.
package session

import (
	"time"
)

// FlowState identifies where a chat is in the onboarding flow.
type FlowState string

const (
	// StateStart is the initial state of every new conversation.
	StateStart FlowState = "START"

	// StateCollectingName means the bot asked for the user's name.
	StateCollectingName FlowState = "COLLECTING_NAME"

	// StateFreeChat is the steady state: messages fall through to the AI.
	StateFreeChat FlowState = "FREE_CHAT"
)

// Role values for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one typed part of a multimodal history entry,
// shaped for the OpenAI vision API.
type ContentPart struct {
	// Type is "text" or "image_url".
	Type string `json:"type"`

	// Text is the text content (Type == "text").
	Text string `json:"text,omitempty"`

	// ImageURL is a base64 data URL (Type == "image_url").
	ImageURL string `json:"image_url,omitempty"`
}

// HistoryEntry is one turn of the conversation history.
// Parts takes precedence over Text when non-empty (multimodal entries).
type HistoryEntry struct {
	Role  string        `json:"role"`
	Text  string        `json:"text,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// TextEntry builds a plain-text history entry.
func TextEntry(role, text string) HistoryEntry {
	return HistoryEntry{Role: role, Text: text}
}

// Conversation is the durable per-chat record.
type Conversation struct {
	// ChatID is the transport-assigned conversation identifier.
	ChatID string

	// FlowState is the current onboarding flow state.
	FlowState FlowState

	// Profile holds collected profile data (e.g. "name").
	Profile map[string]string

	// History is the bounded conversation history, oldest first.
	History []HistoryEntry

	// UpdatedAt is the last mutation time, used by the retention sweeper.
	UpdatedAt time.Time
}

// RegistrationStep identifies where a pending registration is.
type RegistrationStep string

const (
	// StepAwaitingName means the bot asked the new user for their name.
	StepAwaitingName RegistrationStep = "AWAITING_NAME"

	// StepAwaitingConfirmation means a proposed name waits for a yes.
	StepAwaitingConfirmation RegistrationStep = "AWAITING_CONFIRMATION"
)

// Registration is the transient record for a first-contact user who has
// not been confirmed into the user directory yet. Keyed by phone.
type Registration struct {
	Phone        string
	Step         RegistrationStep
	ProposedName string
	UpdatedAt    time.Time
}

// newConversation returns the default session for a first-contact chat.
func newConversation(chatID string) *Conversation {
	return &Conversation{
		ChatID:    chatID,
		FlowState: StateStart,
		Profile:   map[string]string{},
		History:   []HistoryEntry{},
		UpdatedAt: time.Now(),
	}
}
