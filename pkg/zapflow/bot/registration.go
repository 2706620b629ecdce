// Package bot – registration.go implements the first-contact registration
// sub-flow. Registration preempts every other route: until the sender's
// phone exists in the directory, all their messages (commands included)
// feed this two-step exchange instead.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// UserDirectory is the persistent user registry the registrar writes to.
type UserDirectory interface {
	LookupByPhone(ctx context.Context, phone string) (*directory.User, error)
	Create(ctx context.Context, phone, name string) (int64, error)
	TouchInteraction(ctx context.Context, phone string) error
}

// affirmativeTokens are the answers accepted as confirmation, compared
// case-insensitively after trimming.
var affirmativeTokens = map[string]bool{
	"sim":      true,
	"s":        true,
	"yes":      true,
	"y":        true,
	"confirmo": true,
}

// Registrar drives the registration sub-flow for unregistered phones.
type Registrar struct {
	sessions *session.Store
	users    UserDirectory
	messages *Messages
	logger   *slog.Logger
}

// NewRegistrar creates the registration sub-flow handler.
func NewRegistrar(sessions *session.Store, users UserDirectory, messages *Messages, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		sessions: sessions,
		users:    users,
		messages: messages,
		logger:   logger.With("component", "registrar"),
	}
}

// Process advances the registration sub-flow for one message. It returns
// the reply text and whether the sub-flow consumed the message. handled is
// false only when the phone is already registered (or empty), in which
// case normal dispatch proceeds.
//
// Must be called inside the chat lock: it reads and writes both the
// pending-registration record and the directory.
func (r *Registrar) Process(ctx context.Context, chatID, phone, text string) (reply string, handled bool, err error) {
	if phone == "" || r.users == nil {
		// No phone identity or no directory configured; registration
		// cannot apply.
		return "", false, nil
	}

	user, err := r.users.LookupByPhone(ctx, phone)
	if err != nil {
		return "", false, err
	}

	pending, err := r.sessions.GetRegistration(ctx, phone)
	if err != nil {
		return "", false, err
	}

	if user != nil {
		if terr := r.users.TouchInteraction(ctx, phone); terr != nil {
			r.logger.Warn("interaction touch failed", "phone", phone, "error", terr)
		}
		if pending != nil {
			// The phone got registered while the sub-flow was pending
			// (webhook or another chat). Finish up as if confirmed.
			return r.finish(ctx, chatID, phone, user.Name), true, nil
		}
		return "", false, nil
	}

	if pending == nil {
		// First contact ever: open the sub-flow and ask for the name.
		err = r.sessions.PutRegistration(ctx, &session.Registration{
			Phone: phone,
			Step:  session.StepAwaitingName,
		})
		if err != nil {
			return "", false, err
		}
		r.logger.Info("registration started", "phone", phone)
		return r.messages.Get(tagRegisterAskName, ""), true, nil
	}

	switch pending.Step {
	case session.StepAwaitingName:
		return r.handleName(ctx, phone, text, pending)

	case session.StepAwaitingConfirmation:
		return r.handleConfirmation(ctx, chatID, phone, text, pending)

	default:
		// Unknown step in storage; restart the exchange.
		pending.Step = session.StepAwaitingName
		pending.ProposedName = ""
		if err := r.sessions.PutRegistration(ctx, pending); err != nil {
			return "", false, err
		}
		return r.messages.Get(tagRegisterAskName, ""), true, nil
	}
}

// handleName records the proposed name and asks for confirmation.
func (r *Registrar) handleName(ctx context.Context, phone, text string, pending *session.Registration) (string, bool, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		return r.messages.Get(tagRegisterAskName, ""), true, nil
	}

	pending.Step = session.StepAwaitingConfirmation
	pending.ProposedName = name
	if err := r.sessions.PutRegistration(ctx, pending); err != nil {
		return "", false, err
	}
	return r.messages.Get(tagRegisterConfirm, name), true, nil
}

// handleConfirmation finalizes or corrects the registration. An
// affirmative answer writes the user to the directory; any other text is
// taken as a corrected name and re-prompts for confirmation.
func (r *Registrar) handleConfirmation(ctx context.Context, chatID, phone, text string, pending *session.Registration) (string, bool, error) {
	answer := strings.ToLower(strings.TrimSpace(text))

	if !affirmativeTokens[answer] {
		// Treat the reply as a corrected name.
		return r.handleName(ctx, phone, text, pending)
	}

	_, err := r.users.Create(ctx, phone, pending.ProposedName)
	if err != nil {
		if errors.Is(err, directory.ErrDuplicatePhone) {
			// Registered concurrently elsewhere; accept and move on.
			r.logger.Info("registration raced an existing record", "phone", phone)
		} else {
			// Storage failure: keep the pending record so the user can
			// retry with another "sim".
			r.logger.Error("registration write failed", "phone", phone, "error", err)
			return r.messages.Get(tagRegisterRetry, pending.ProposedName), true, nil
		}
	}

	return r.finish(ctx, chatID, phone, pending.ProposedName), true, nil
}

// finish closes the sub-flow: the pending record is dropped, the chat
// session is seeded and the welcome goes out.
func (r *Registrar) finish(ctx context.Context, chatID, phone, name string) string {
	if err := r.sessions.DeleteRegistration(ctx, phone); err != nil {
		r.logger.Warn("pending registration cleanup failed", "phone", phone, "error", err)
	}
	r.seedSession(ctx, chatID, name)
	r.logger.Info("registration confirmed", "phone", phone, "name", name)
	return r.messages.Get(tagRegisterWelcome, name)
}

// seedSession moves the chat straight to free chat with the registered
// name so the next message does not re-run the greeting.
func (r *Registrar) seedSession(ctx context.Context, chatID, name string) {
	conv, err := r.sessions.Get(ctx, chatID)
	if err != nil {
		r.logger.Warn("session seed failed", "chat", chatID, "error", err)
		return
	}
	conv.FlowState = session.StateFreeChat
	conv.Profile["name"] = name
	if err := r.sessions.Put(ctx, conv); err != nil {
		r.logger.Warn("session seed failed", "chat", chatID, "error", err)
	}
}
