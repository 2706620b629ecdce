// Package bot – classifier.go normalizes heterogeneous transport events
// (plain text, quoted text, voice notes, images) into a single Intent with
// a closed CommandKind. Classification happens exactly once per event; the
// dispatcher switches on the result and never re-parses text.
//
// Download or transcription failures degrade to "no actionable content":
// they are logged here and never abort handling for the chat.
package bot

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// CommandKind is the closed set of routes an inbound message can take.
type CommandKind string

const (
	// CommandAIChat routes to the AI completion backend.
	CommandAIChat CommandKind = "ai_chat"

	// CommandImageGen routes to the image generation backend.
	CommandImageGen CommandKind = "image_gen"

	// CommandScriptRun routes to the script sandbox.
	CommandScriptRun CommandKind = "script_run"

	// CommandFlowOnly is plain text that goes through the flow machine
	// first and may be promoted to CommandAIChat on fall-through.
	CommandFlowOnly CommandKind = "flow_only"

	// CommandUnknown is an unrecognized "!" command. It still feeds the
	// registration sub-flow; past that it is dropped, so typos never
	// reach the flow or the history.
	CommandUnknown CommandKind = "unknown"
)

// Command prefixes.
const (
	prefixBot = "!bot "
	prefixImg = "!img "
	prefixRun = "!run"
)

// defaultImageCaption is used when an inbound image has no caption.
const defaultImageCaption = "Análise de imagem"

// Intent is the transient, classified representation of one inbound event.
// Produced per event, consumed by the dispatcher, then discarded.
type Intent struct {
	// ChatID is the conversation the reply goes to.
	ChatID string

	// Phone is the sender's phone-derived identity.
	Phone string

	// RawText is the normalized text body (transcripts get the !bot
	// prefix, images the [IMAGEM] marker, matching what a typed command
	// would have looked like).
	RawText string

	// Kind selects the dispatch route.
	Kind CommandKind

	// Prompt is the command payload (text after the prefix).
	Prompt string

	// ScriptName and ScriptArgs are set for CommandScriptRun.
	ScriptName string
	ScriptArgs []string

	// PendingEntry is a multimodal history entry built by the classifier
	// (image events). The dispatcher appends it inside the chat lock.
	PendingEntry *session.HistoryEntry

	// Enqueued tells the dispatcher the triggering content is already
	// covered by PendingEntry, so the text must not be appended again.
	Enqueued bool

	// Original is the transport event, kept for quoting replies.
	Original *channels.IncomingMessage
}

// Transcriber is the voice-note transcription collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Classifier converts transport events into Intents.
type Classifier struct {
	transport   channels.Transport
	transcriber Transcriber
	logger      *slog.Logger
}

// NewClassifier creates a message classifier.
func NewClassifier(transport channels.Transport, transcriber Transcriber, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		transport:   transport,
		transcriber: transcriber,
		logger:      logger.With("component", "classifier"),
	}
}

// Classify produces an Intent for the event, or nil when the event has no
// actionable content (own messages, empty payloads, failed downloads).
func (c *Classifier) Classify(ctx context.Context, msg *channels.IncomingMessage) *Intent {
	if msg.FromSelf {
		return nil
	}

	switch msg.Type {
	case channels.MessageText:
		return c.classifyText(msg, msg.Content)

	case channels.MessageAudio:
		return c.classifyAudio(ctx, msg)

	case channels.MessageImage:
		return c.classifyImage(ctx, msg)

	default:
		return nil
	}
}

// classifyText applies the command grammar to a text body.
func (c *Classifier) classifyText(msg *channels.IncomingMessage, text string) *Intent {
	if text == "" {
		return nil
	}

	intent := &Intent{
		ChatID:   msg.ChatID,
		Phone:    msg.Phone,
		RawText:  text,
		Original: msg,
	}

	switch {
	case strings.HasPrefix(text, prefixBot):
		intent.Kind = CommandAIChat
		intent.Prompt = text[len(prefixBot):]

	case strings.HasPrefix(text, prefixImg):
		intent.Kind = CommandImageGen
		intent.Prompt = strings.TrimSpace(text[len(prefixImg):])

	case text == prefixRun || strings.HasPrefix(text, prefixRun+" "):
		intent.Kind = CommandScriptRun
		fields := strings.Fields(text)
		if len(fields) > 1 {
			intent.ScriptName = fields[1]
			intent.ScriptArgs = fields[2:]
		}

	case strings.HasPrefix(text, "!"):
		intent.Kind = CommandUnknown

	default:
		intent.Kind = CommandFlowOnly
		intent.Prompt = text
	}

	return intent
}

// classifyAudio downloads and transcribes a voice note. The transcript is
// forced onto the AI-chat path regardless of its content.
func (c *Classifier) classifyAudio(ctx context.Context, msg *channels.IncomingMessage) *Intent {
	audio, mime, err := c.transport.DownloadMedia(ctx, msg)
	if err != nil {
		c.logger.Warn("audio download failed", "chat", msg.ChatID, "error", err)
		return nil
	}

	c.logger.Info("audio captured, transcribing",
		"chat", msg.ChatID, "bytes", len(audio), "voice_note", msg.IsVoiceNote)

	transcript, err := c.transcriber.Transcribe(ctx, audio, filenameForMime(mime))
	if err != nil {
		c.logger.Warn("transcription failed", "chat", msg.ChatID, "error", err)
		return nil
	}
	if transcript == "" {
		c.logger.Warn("transcription returned empty text", "chat", msg.ChatID)
		return nil
	}

	c.logger.Info("transcription result", "chat", msg.ChatID, "text", transcript)

	return &Intent{
		ChatID:   msg.ChatID,
		Phone:    msg.Phone,
		RawText:  prefixBot + transcript,
		Kind:     CommandAIChat,
		Prompt:   transcript,
		Original: msg,
	}
}

// classifyImage downloads an image, builds a multimodal history entry with
// the base64 payload, and forces the AI-chat path. The entry itself is
// appended by the dispatcher inside the chat lock; Enqueued marks that the
// text is already part of it.
func (c *Classifier) classifyImage(ctx context.Context, msg *channels.IncomingMessage) *Intent {
	data, mime, err := c.transport.DownloadMedia(ctx, msg)
	if err != nil {
		c.logger.Warn("image download failed", "chat", msg.ChatID, "error", err)
		return nil
	}

	caption := msg.Content
	if caption == "" {
		caption = defaultImageCaption
	}

	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	c.logger.Info("image captured", "chat", msg.ChatID, "bytes", len(data), "mime", mime)

	entry := &session.HistoryEntry{
		Role: session.RoleUser,
		Parts: []session.ContentPart{
			{Type: "text", Text: prefixBot + caption},
			{Type: "image_url", ImageURL: dataURL},
		},
	}

	return &Intent{
		ChatID:       msg.ChatID,
		Phone:        msg.Phone,
		RawText:      prefixBot + "[IMAGEM] " + caption,
		Kind:         CommandAIChat,
		Prompt:       prefixBot + "[IMAGEM] " + caption,
		PendingEntry: entry,
		Enqueued:     true,
		Original:     msg,
	}
}

// filenameForMime picks a transcription filename for the audio MIME type.
func filenameForMime(mime string) string {
	switch {
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "voice.mp3"
	case strings.Contains(mime, "wav"):
		return "voice.wav"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return "voice.m4a"
	default:
		return "voice.ogg"
	}
}
