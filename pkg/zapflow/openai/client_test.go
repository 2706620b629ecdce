package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "sk-test"}, "Você é uma assistente.", nil)
}

func TestComplete(t *testing.T) {
	t.Run("prepends the system prompt", func(t *testing.T) {
		var gotReq chatRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				t.Errorf("missing auth header")
			}
			_ = json.NewDecoder(r.Body).Decode(&gotReq)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "Paris."}},
				},
			})
		})

		answer, err := c.Complete(context.Background(), []session.HistoryEntry{
			session.TextEntry(session.RoleUser, "!bot capital da França?"),
		})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if answer != "Paris." {
			t.Errorf("unexpected answer %q", answer)
		}
		if len(gotReq.Messages) != 2 {
			t.Fatalf("expected system + user, got %d messages", len(gotReq.Messages))
		}
		if gotReq.Messages[0].Role != "system" {
			t.Errorf("first message must be the system prompt, got %s", gotReq.Messages[0].Role)
		}
	})

	t.Run("multimodal entries become content arrays", func(t *testing.T) {
		var raw map[string]any
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&raw)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "é um gato"}},
				},
			})
		})

		_, err := c.Complete(context.Background(), []session.HistoryEntry{
			{
				Role: session.RoleUser,
				Parts: []session.ContentPart{
					{Type: "text", Text: "!bot o que é?"},
					{Type: "image_url", ImageURL: "data:image/png;base64,eA=="},
				},
			},
		})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}

		msgs := raw["messages"].([]any)
		content := msgs[1].(map[string]any)["content"].([]any)
		if len(content) != 2 {
			t.Fatalf("expected 2 content parts, got %d", len(content))
		}
		img := content[1].(map[string]any)
		url := img["image_url"].(map[string]any)["url"].(string)
		if url != "data:image/png;base64,eA==" {
			t.Errorf("image part malformed: %v", img)
		}
	})

	t.Run("API error surfaces as an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "rate limit", "type": "rate_limit"},
			})
		})

		if _, err := c.Complete(context.Background(), nil); err == nil {
			t.Error("expected error")
		}
	})
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart body: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  qual o horário  "})
	})

	text, err := c.Transcribe(context.Background(), []byte("ogg"), "voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "qual o horário" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
}

func TestGenerateImage(t *testing.T) {
	image := []byte{0x89, 0x50, 0x4E, 0x47}

	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["prompt"] != "um gato astronauta" {
			t.Errorf("unexpected prompt %v", req["prompt"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": srv.URL + "/generated.png"}},
		})
	})
	mux.HandleFunc("/generated.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(image)
	})

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-test"}, "", nil)
	got, err := c.GenerateImage(context.Background(), "um gato astronauta")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if len(got) != len(image) {
		t.Errorf("expected %d bytes, got %d", len(image), len(got))
	}
}
