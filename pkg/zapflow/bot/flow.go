// Package bot – flow.go is the conversational flow machine for plain text.
// It is total: every (state, input) pair yields a FlowResult, and the reset
// tokens override whatever state the chat is in.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// resetTokens restart the flow from any state, matched case-insensitively.
var resetTokens = map[string]bool{
	"reiniciar": true,
	"reset":     true,
	"menu":      true,
}

// FlowResult is the outcome of one flow step.
type FlowResult struct {
	// Reply is the canned text to send, empty when the flow stays silent.
	Reply string

	// Terminate reports that the flow fully handled the message. When
	// false the text falls through to the AI-chat route.
	Terminate bool
}

// Flow advances chat sessions through the greeting states.
type Flow struct {
	sessions *session.Store
	users    UserDirectory
	messages *Messages
	logger   *slog.Logger
}

// NewFlow creates the flow machine.
func NewFlow(sessions *session.Store, users UserDirectory, messages *Messages, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		sessions: sessions,
		users:    users,
		messages: messages,
		logger:   logger.With("component", "flow"),
	}
}

// Step advances the flow for one plain-text message. Must be called inside
// the chat lock.
func (f *Flow) Step(ctx context.Context, conv *session.Conversation, phone, text string) (FlowResult, error) {
	if resetTokens[strings.ToLower(strings.TrimSpace(text))] {
		return f.reset(ctx, conv)
	}

	switch conv.FlowState {
	case session.StateStart:
		return f.stepStart(ctx, conv, phone)

	case session.StateCollectingName:
		return f.stepCollectingName(ctx, conv, text)

	case session.StateFreeChat:
		return FlowResult{}, nil

	default:
		// Unknown state in storage; recover by restarting.
		f.logger.Warn("unknown flow state, restarting", "chat", conv.ChatID, "state", conv.FlowState)
		conv.FlowState = session.StateStart
		if err := f.sessions.Put(ctx, conv); err != nil {
			return FlowResult{}, err
		}
		return f.stepStart(ctx, conv, phone)
	}
}

// reset returns the chat to the start state with a cleared profile,
// keeping history. The next message drives the START transition again.
func (f *Flow) reset(ctx context.Context, conv *session.Conversation) (FlowResult, error) {
	if err := f.sessions.Reset(ctx, conv.ChatID); err != nil {
		return FlowResult{}, err
	}
	conv.FlowState = session.StateStart
	conv.Profile = map[string]string{}

	f.logger.Info("flow reset", "chat", conv.ChatID)
	return FlowResult{
		Reply:     "🔄 Fluxo reiniciado! " + f.messages.Get(tagGreeting, ""),
		Terminate: true,
	}, nil
}

// stepStart handles the first message of a fresh session. Known users skip
// the name collection entirely.
func (f *Flow) stepStart(ctx context.Context, conv *session.Conversation, phone string) (FlowResult, error) {
	if name := f.knownName(ctx, phone); name != "" {
		conv.FlowState = session.StateFreeChat
		conv.Profile["name"] = name
		if err := f.sessions.Put(ctx, conv); err != nil {
			return FlowResult{}, err
		}
		return FlowResult{Reply: f.messages.Get(tagWelcomeBack, name), Terminate: true}, nil
	}

	conv.FlowState = session.StateCollectingName
	if err := f.sessions.Put(ctx, conv); err != nil {
		return FlowResult{}, err
	}
	return FlowResult{
		Reply:     f.messages.Get(tagGreeting, "") + "\n\n" + f.messages.Get(tagAskName, ""),
		Terminate: true,
	}, nil
}

// stepCollectingName stores the announced name and opens free chat.
func (f *Flow) stepCollectingName(ctx context.Context, conv *session.Conversation, text string) (FlowResult, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		return FlowResult{Reply: f.messages.Get(tagAskName, ""), Terminate: true}, nil
	}

	conv.FlowState = session.StateFreeChat
	conv.Profile["name"] = name
	if err := f.sessions.Put(ctx, conv); err != nil {
		return FlowResult{}, err
	}
	f.logger.Info("name collected", "chat", conv.ChatID)
	return FlowResult{Reply: f.messages.Get(tagNameSaved, name), Terminate: true}, nil
}

// knownName looks the sender up in the directory; any lookup failure is
// treated as "unknown" so the flow still progresses.
func (f *Flow) knownName(ctx context.Context, phone string) string {
	if phone == "" || f.users == nil {
		return ""
	}
	user, err := f.users.LookupByPhone(ctx, phone)
	if err != nil {
		f.logger.Warn("directory lookup failed", "phone", phone, "error", err)
		return ""
	}
	if user == nil {
		return ""
	}
	return user.Name
}
