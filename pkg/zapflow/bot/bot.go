// Package bot assembles the conversation engine: transport in, classifier,
// registration sub-flow, flow machine, command dispatch, AI backends and
// the script sandbox.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"
	"github.com/jholhewres/zapflow/pkg/zapflow/channels/whatsapp"
	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
	"github.com/jholhewres/zapflow/pkg/zapflow/openai"
	"github.com/jholhewres/zapflow/pkg/zapflow/sandbox"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// Bot is the running conversation engine.
type Bot struct {
	cfg        *Config
	transport  channels.Transport
	sessions   *session.Store
	users      *directory.Directory
	ai         *openai.Client
	classifier *Classifier
	dispatcher *Dispatcher
	logger     *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds the engine from configuration. The PostgreSQL directory is
// optional: with no directory.url configured the bot runs without
// registration, using only the in-session flow.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := session.Open(cfg.SessionDBPath, cfg.MaxHistory, logger)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	var users *directory.Directory
	if cfg.Directory.URL != "" {
		users, err = directory.Open(ctx, cfg.Directory, logger)
		if err != nil {
			sessions.Close()
			return nil, fmt.Errorf("opening user directory: %w", err)
		}
	} else {
		logger.Warn("no directory configured, registration disabled")
	}

	systemPrompt := loadSystemPrompt(cfg.PromptFile, logger)
	ai := openai.New(cfg.OpenAI, systemPrompt, logger)
	transport := whatsapp.New(cfg.WhatsApp, logger)
	scripts := sandbox.New(cfg.Sandbox, logger)
	messages := NewMessages(cfg.PromptFile)

	var userDir UserDirectory
	if users != nil {
		userDir = users
	}

	registrar := NewRegistrar(sessions, userDir, messages, logger)
	flow := NewFlow(sessions, userDir, messages, logger)
	dispatcher := NewDispatcher(transport, sessions, registrar, flow, ai, scripts, logger)
	classifier := NewClassifier(transport, ai, logger)

	return &Bot{
		cfg:        cfg,
		transport:  transport,
		sessions:   sessions,
		users:      users,
		ai:         ai,
		classifier: classifier,
		dispatcher: dispatcher,
		logger:     logger.With("component", "bot"),
	}, nil
}

// Sessions exposes the session store for maintenance jobs.
func (b *Bot) Sessions() *session.Store { return b.sessions }

// Transport exposes the messaging transport for out-of-chat sends.
func (b *Bot) Transport() channels.Transport { return b.transport }

// Users exposes the user directory, nil when not configured.
func (b *Bot) Users() *directory.Directory { return b.users }

// Start connects the transport and begins processing messages. It returns
// once the receive loop is running; Stop shuts everything down.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}

	b.wg.Add(1)
	go b.receiveLoop(ctx)

	b.logger.Info("bot started", "name", b.cfg.Name)
	return nil
}

// Stop disconnects the transport and waits for in-flight messages.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if err := b.transport.Disconnect(); err != nil {
		b.logger.Warn("transport disconnect failed", "error", err)
	}
	b.wg.Wait()
	if err := b.sessions.Close(); err != nil {
		b.logger.Warn("session store close failed", "error", err)
	}
	if b.users != nil {
		if err := b.users.Close(); err != nil {
			b.logger.Warn("directory close failed", "error", err)
		}
	}
	b.logger.Info("bot stopped")
}

// receiveLoop drains the transport. Each message is handled in its own
// goroutine; the per-chat lock inside Dispatch keeps chat ordering.
func (b *Bot) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-b.transport.Receive():
			if !ok {
				return
			}
			b.wg.Add(1)
			go func(msg *channels.IncomingMessage) {
				defer b.wg.Done()
				b.handle(ctx, msg)
			}(msg)
		}
	}
}

// handle classifies and dispatches a single message.
func (b *Bot) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic handling message", "chat", msg.ChatID, "panic", r)
		}
	}()

	intent := b.classifier.Classify(ctx, msg)
	if intent == nil {
		return
	}

	b.logger.Info("dispatching",
		"chat", intent.ChatID, "kind", string(intent.Kind))
	b.dispatcher.Dispatch(ctx, intent)
}

// loadSystemPrompt reads the prompt file, excluding the [TAG] override
// lines that belong to the flow message resolver.
func loadSystemPrompt(path string, logger *slog.Logger) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("prompt file not readable, using empty system prompt", "path", path, "error", err)
		return ""
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if isTagLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// isTagLine reports whether a prompt file line is a flow message override.
func isTagLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	end := strings.Index(trimmed, "]")
	if end < 2 {
		return false
	}
	_, known := defaultMessages[trimmed[1:end]]
	return known
}
