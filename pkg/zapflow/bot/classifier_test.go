package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"
)

func TestClassifyText(t *testing.T) {
	ctx := context.Background()
	c := NewClassifier(newFakeTransport(), &fakeAI{}, nil)

	t.Run("bot command", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "!bot qual a capital da França?"))
		if intent == nil || intent.Kind != CommandAIChat {
			t.Fatalf("expected AI chat intent, got %+v", intent)
		}
		if intent.Prompt != "qual a capital da França?" {
			t.Errorf("unexpected prompt: %q", intent.Prompt)
		}
		if intent.RawText != "!bot qual a capital da França?" {
			t.Errorf("raw text should keep the prefix: %q", intent.RawText)
		}
	})

	t.Run("img command trims the prompt", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "!img  um gato astronauta "))
		if intent == nil || intent.Kind != CommandImageGen {
			t.Fatalf("expected image intent, got %+v", intent)
		}
		if intent.Prompt != "um gato astronauta" {
			t.Errorf("unexpected prompt: %q", intent.Prompt)
		}
	})

	t.Run("run command splits name and args", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "!run hello Maria Silva"))
		if intent == nil || intent.Kind != CommandScriptRun {
			t.Fatalf("expected script intent, got %+v", intent)
		}
		if intent.ScriptName != "hello" {
			t.Errorf("unexpected script name: %q", intent.ScriptName)
		}
		if len(intent.ScriptArgs) != 2 || intent.ScriptArgs[0] != "Maria" {
			t.Errorf("unexpected args: %v", intent.ScriptArgs)
		}
	})

	t.Run("bare run keeps empty name for usage reply", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "!run"))
		if intent == nil || intent.Kind != CommandScriptRun {
			t.Fatalf("expected script intent, got %+v", intent)
		}
		if intent.ScriptName != "" {
			t.Errorf("expected empty script name, got %q", intent.ScriptName)
		}
	})

	t.Run("unknown bang command keeps its own kind", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "!foo bar"))
		if intent == nil || intent.Kind != CommandUnknown {
			t.Fatalf("expected unknown-command intent, got %+v", intent)
		}
		if intent.RawText != "!foo bar" {
			t.Errorf("raw text must survive for the registration check, got %q", intent.RawText)
		}
	})

	t.Run("plain text goes to the flow", func(t *testing.T) {
		intent := c.Classify(ctx, textMessage("chat", "5511", "oi"))
		if intent == nil || intent.Kind != CommandFlowOnly {
			t.Fatalf("expected flow intent, got %+v", intent)
		}
	})

	t.Run("own messages are ignored", func(t *testing.T) {
		msg := textMessage("chat", "5511", "!bot oi")
		msg.FromSelf = true
		if intent := c.Classify(ctx, msg); intent != nil {
			t.Errorf("expected nil for own message, got %+v", intent)
		}
	})
}

func TestClassifyAudio(t *testing.T) {
	ctx := context.Background()

	audioMsg := func() *channels.IncomingMessage {
		return &channels.IncomingMessage{
			ChatID:      "chat",
			Phone:       "5511",
			Type:        channels.MessageAudio,
			IsVoiceNote: true,
			Media:       &channels.MediaInfo{Type: channels.MessageAudio, MimeType: "audio/ogg"},
		}
	}

	t.Run("transcript forces the AI route", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadData = []byte("fake-ogg")
		tr.downloadMime = "audio/ogg"
		ai := &fakeAI{transcript: "qual o horário de hoje"}
		c := NewClassifier(tr, ai, nil)

		intent := c.Classify(ctx, audioMsg())
		if intent == nil || intent.Kind != CommandAIChat {
			t.Fatalf("expected AI intent, got %+v", intent)
		}
		// The transcript is framed as if the user had typed the command.
		if intent.RawText != "!bot qual o horário de hoje" {
			t.Errorf("unexpected raw text: %q", intent.RawText)
		}
	})

	t.Run("download failure degrades to no intent", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadErr = channels.ErrNoMedia
		c := NewClassifier(tr, &fakeAI{}, nil)

		if intent := c.Classify(ctx, audioMsg()); intent != nil {
			t.Errorf("expected nil on download failure, got %+v", intent)
		}
	})

	t.Run("empty transcript degrades to no intent", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadData = []byte("x")
		c := NewClassifier(tr, &fakeAI{transcript: ""}, nil)

		if intent := c.Classify(ctx, audioMsg()); intent != nil {
			t.Errorf("expected nil on empty transcript, got %+v", intent)
		}
	})
}

func TestClassifyImage(t *testing.T) {
	ctx := context.Background()

	imageMsg := func(caption string) *channels.IncomingMessage {
		return &channels.IncomingMessage{
			ChatID:  "chat",
			Phone:   "5511",
			Type:    channels.MessageImage,
			Content: caption,
			Media:   &channels.MediaInfo{Type: channels.MessageImage, MimeType: "image/png"},
		}
	}

	t.Run("builds a multimodal pending entry", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadData = []byte{0x89, 0x50}
		tr.downloadMime = "image/png"
		c := NewClassifier(tr, &fakeAI{}, nil)

		intent := c.Classify(ctx, imageMsg("o que é isso?"))
		if intent == nil || intent.Kind != CommandAIChat {
			t.Fatalf("expected AI intent, got %+v", intent)
		}
		if !intent.Enqueued || intent.PendingEntry == nil {
			t.Fatal("expected an enqueued pending entry")
		}
		if len(intent.PendingEntry.Parts) != 2 {
			t.Fatalf("expected 2 parts, got %d", len(intent.PendingEntry.Parts))
		}
		if intent.PendingEntry.Parts[0].Text != "!bot o que é isso?" {
			t.Errorf("unexpected text part: %q", intent.PendingEntry.Parts[0].Text)
		}
		if !strings.HasPrefix(intent.PendingEntry.Parts[1].ImageURL, "data:image/png;base64,") {
			t.Errorf("expected data URL, got %q", intent.PendingEntry.Parts[1].ImageURL)
		}
		if !strings.Contains(intent.RawText, "[IMAGEM]") {
			t.Errorf("raw text should carry the image marker: %q", intent.RawText)
		}
	})

	t.Run("captionless image gets the default caption", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadData = []byte{1}
		c := NewClassifier(tr, &fakeAI{}, nil)

		intent := c.Classify(ctx, imageMsg(""))
		if intent == nil {
			t.Fatal("expected intent")
		}
		if intent.PendingEntry.Parts[0].Text != "!bot "+defaultImageCaption {
			t.Errorf("expected default caption, got %q", intent.PendingEntry.Parts[0].Text)
		}
	})

	t.Run("download failure degrades to no intent", func(t *testing.T) {
		tr := newFakeTransport()
		tr.downloadErr = channels.ErrNoMedia
		c := NewClassifier(tr, &fakeAI{}, nil)

		if intent := c.Classify(ctx, imageMsg("oi")); intent != nil {
			t.Errorf("expected nil on download failure, got %+v", intent)
		}
	})
}
