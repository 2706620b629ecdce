// Package bot – dispatcher.go routes classified Intents. Precedence per
// message: registration sub-flow first, then the flow machine for plain
// text, then the command routes. Everything runs inside the per-chat lock
// so a chat's messages are processed strictly in order.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// User-facing fallback texts.
const (
	replyAIUnavailable  = "Desculpe, estou com problemas técnicos no momento. 😓 Tente novamente mais tarde."
	replyImageAck       = "🎨 Gerando sua imagem, aguarde um instante..."
	replyImageFailed    = "😔 Não consegui gerar a imagem agora. Tente novamente mais tarde."
	replyImageUsage     = "Uso: !img <descrição da imagem>"
	replyScriptNoOutput = "✅ Script executado com sucesso (sem saída)."
)

// AIBackend is the completion and image-generation collaborator.
type AIBackend interface {
	Complete(ctx context.Context, history []session.HistoryEntry) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// ScriptRunner is the sandbox collaborator.
type ScriptRunner interface {
	Run(ctx context.Context, name string, args []string) string
	Available() []string
}

// Dispatcher executes Intents against the session store and backends.
type Dispatcher struct {
	transport channels.Transport
	sessions  *session.Store
	registrar *Registrar
	flow      *Flow
	ai        AIBackend
	scripts   ScriptRunner
	logger    *slog.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(
	transport channels.Transport,
	sessions *session.Store,
	registrar *Registrar,
	flow *Flow,
	ai AIBackend,
	scripts ScriptRunner,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		sessions:  sessions,
		registrar: registrar,
		flow:      flow,
		ai:        ai,
		scripts:   scripts,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch handles one classified intent end to end. It acquires the chat
// lock for the whole handling so per-chat ordering holds.
func (d *Dispatcher) Dispatch(ctx context.Context, intent *Intent) {
	_ = d.sessions.WithLock(intent.ChatID, func() error {
		d.dispatchLocked(ctx, intent)
		return nil
	})
}

func (d *Dispatcher) dispatchLocked(ctx context.Context, intent *Intent) {
	// Registration preempts everything, commands included: until the
	// phone is in the directory, every message feeds the sub-flow.
	reply, handled, err := d.registrar.Process(ctx, intent.ChatID, intent.Phone, intent.RawText)
	if err != nil {
		// Directory outage: log and fall through to normal dispatch so
		// the bot keeps answering.
		d.logger.Error("registration check failed", "chat", intent.ChatID, "error", err)
	}
	if handled {
		d.reply(ctx, intent, reply)
		return
	}

	switch intent.Kind {
	case CommandFlowOnly:
		d.handleFlow(ctx, intent)

	case CommandAIChat:
		d.handleAIChat(ctx, intent)

	case CommandImageGen:
		d.handleImageGen(ctx, intent)

	case CommandScriptRun:
		d.handleScriptRun(ctx, intent)

	case CommandUnknown:
		// Unrecognized "!" command from a registered user: dropped so
		// typos never reach the flow or the history.
	}
}

// handleFlow runs plain text through the flow machine; on fall-through the
// text is promoted to an AI chat as if the user had typed the command.
func (d *Dispatcher) handleFlow(ctx context.Context, intent *Intent) {
	conv, err := d.sessions.Get(ctx, intent.ChatID)
	if err != nil {
		d.logger.Error("session load failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyAIUnavailable)
		return
	}

	result, err := d.flow.Step(ctx, conv, intent.Phone, intent.Prompt)
	if err != nil {
		d.logger.Error("flow step failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyAIUnavailable)
		return
	}
	if result.Terminate {
		d.reply(ctx, intent, result.Reply)
		return
	}

	// Free chat: synthesize the AI command the user did not type.
	promoted := *intent
	promoted.Kind = CommandAIChat
	promoted.RawText = prefixBot + intent.Prompt
	d.handleAIChat(ctx, &promoted)
}

// handleAIChat appends the user turn, calls the completion backend with
// the bounded history, and appends the assistant turn.
func (d *Dispatcher) handleAIChat(ctx context.Context, intent *Intent) {
	d.typing(ctx, intent.ChatID)

	var entry session.HistoryEntry
	if intent.Enqueued && intent.PendingEntry != nil {
		entry = *intent.PendingEntry
	} else {
		// The command prefix stays out of the stored turn; only the
		// payload reaches the completion prompt.
		entry = session.TextEntry(session.RoleUser, intent.Prompt)
	}
	if err := d.sessions.AppendHistory(ctx, intent.ChatID, entry); err != nil {
		d.logger.Error("history append failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyAIUnavailable)
		return
	}

	conv, err := d.sessions.Get(ctx, intent.ChatID)
	if err != nil {
		d.logger.Error("session load failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyAIUnavailable)
		return
	}

	answer, err := d.ai.Complete(ctx, conv.History)
	if err != nil {
		d.logger.Error("completion failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyAIUnavailable)
		return
	}

	if err := d.sessions.AppendHistory(ctx, intent.ChatID, session.TextEntry(session.RoleAssistant, answer)); err != nil {
		d.logger.Error("history append failed", "chat", intent.ChatID, "error", err)
	}

	d.reply(ctx, intent, answer)
}

// handleImageGen acknowledges immediately, then delivers the image or an
// apology. Image generation leaves no trace in the chat history.
func (d *Dispatcher) handleImageGen(ctx context.Context, intent *Intent) {
	if intent.Prompt == "" {
		d.reply(ctx, intent, replyImageUsage)
		return
	}

	d.reply(ctx, intent, replyImageAck)
	d.typing(ctx, intent.ChatID)

	image, err := d.ai.GenerateImage(ctx, intent.Prompt)
	if err != nil {
		d.logger.Error("image generation failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyImageFailed)
		return
	}

	if err := d.transport.SendImage(ctx, intent.ChatID, image, intent.Prompt); err != nil {
		d.logger.Error("image send failed", "chat", intent.ChatID, "error", err)
		d.reply(ctx, intent, replyImageFailed)
	}
}

// handleScriptRun executes an allow-directory script. The runner encodes
// every failure into the returned string, so there is always a reply.
func (d *Dispatcher) handleScriptRun(ctx context.Context, intent *Intent) {
	if intent.ScriptName == "" {
		usage := "Uso: !run <script> [argumentos]"
		if available := d.scripts.Available(); len(available) > 0 {
			usage += "\n\nScripts disponíveis: " + strings.Join(available, ", ")
		}
		d.reply(ctx, intent, usage)
		return
	}

	d.typing(ctx, intent.ChatID)

	d.logger.Info("running script",
		"chat", intent.ChatID, "script", intent.ScriptName, "args", len(intent.ScriptArgs))

	output := d.scripts.Run(ctx, intent.ScriptName, intent.ScriptArgs)
	if output == "" {
		output = replyScriptNoOutput
	}
	d.reply(ctx, intent, output)
}

// reply quotes the triggering message, falling back to a direct send when
// quoting fails (e.g. the original was deleted).
func (d *Dispatcher) reply(ctx context.Context, intent *Intent, text string) {
	if text == "" {
		return
	}
	if intent.Original != nil {
		err := d.transport.Reply(ctx, intent.Original, text)
		if err == nil {
			return
		}
		d.logger.Warn("quoted reply failed, sending direct", "chat", intent.ChatID, "error", err)
	}
	if err := d.transport.SendDirect(ctx, intent.ChatID, text); err != nil {
		d.logger.Error("send failed", "chat", intent.ChatID, "error", err)
	}
}

func (d *Dispatcher) typing(ctx context.Context, chatID string) {
	if err := d.transport.SendTyping(ctx, chatID); err != nil {
		d.logger.Debug("typing indicator failed", "chat", chatID, "error", err)
	}
}
