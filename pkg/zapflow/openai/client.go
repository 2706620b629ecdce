// Package openai implements the AI collaborator boundary: chat completions
// (with vision content), Whisper audio transcription, and image generation.
// Uses the OpenAI-compatible API format over plain net/http, so any
// compatible endpoint works via BaseURL.
//
// Callers are expected to treat every error here as a transient
// collaborator failure and degrade to a static reply — nothing in this
// package retries or panics.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// Config holds the OpenAI client configuration.
type Config struct {
	// BaseURL is the API endpoint. Defaults to the OpenAI API.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests.
	APIKey string `yaml:"api_key"`

	// Model is the chat completion model.
	Model string `yaml:"model"`

	// TranscriptionModel is the Whisper model for voice notes.
	TranscriptionModel string `yaml:"transcription_model"`

	// ImageModel is the image generation model.
	ImageModel string `yaml:"image_model"`

	// RequestTimeout bounds every API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.openai.com/v1",
		Model:              "gpt-4o-mini",
		TranscriptionModel: "whisper-1",
		ImageModel:         "dall-e-3",
		RequestTimeout:     120 * time.Second,
	}
}

// Client talks to an OpenAI-compatible API.
type Client struct {
	cfg          Config
	systemPrompt string
	httpClient   *http.Client
	logger       *slog.Logger
}

// New creates a new client. systemPrompt is prepended to every
// completion request as the system message.
func New(cfg Config, systemPrompt string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "dall-e-3"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}

	return &Client{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 120 * time.Second,
			},
		},
		logger: logger.With("component", "openai"),
	}
}

// ---------- Wire types ----------

// chatMessage is one message in the OpenAI chat completions request.
// Content is either a string or a []contentPart for vision entries.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imagePartURL `json:"image_url,omitempty"`
}

type imagePartURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// toWireMessages converts session history to the API shape.
func toWireMessages(history []session.HistoryEntry) []chatMessage {
	msgs := make([]chatMessage, 0, len(history))
	for _, entry := range history {
		if len(entry.Parts) > 0 {
			parts := make([]contentPart, 0, len(entry.Parts))
			for _, p := range entry.Parts {
				switch p.Type {
				case "image_url":
					parts = append(parts, contentPart{
						Type:     "image_url",
						ImageURL: &imagePartURL{URL: p.ImageURL},
					})
				default:
					parts = append(parts, contentPart{Type: "text", Text: p.Text})
				}
			}
			msgs = append(msgs, chatMessage{Role: entry.Role, Content: parts})
			continue
		}
		msgs = append(msgs, chatMessage{Role: entry.Role, Content: entry.Text})
	}
	return msgs
}

// ---------- Chat completions ----------

// Complete sends the bounded history to the chat completions API and
// returns the assistant's reply text.
func (c *Client) Complete(ctx context.Context, history []session.HistoryEntry) (string, error) {
	messages := []chatMessage{}
	if c.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	messages = append(messages, toWireMessages(history)...)

	reqBody, err := json.Marshal(chatRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completions API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding completion response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completions API error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completions API returned status %d with no choices", resp.StatusCode)
	}

	return parsed.Choices[0].Message.Content, nil
}

// ---------- Transcription ----------

// Transcribe sends audio bytes to the Whisper transcription API.
// filename carries the extension hint (e.g. "voice.ogg").
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := w.WriteField("model", c.cfg.TranscriptionModel); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("building transcription request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling transcription API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading transcription response: %w", err)
	}

	var parsed struct {
		Text  string    `json:"text"`
		Error *apiError `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding transcription response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("transcription API error: %s", parsed.Error.Message)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// ---------- Image generation ----------

// GenerateImage generates an image for the prompt and returns its bytes.
// The API returns a short-lived URL; the image is downloaded before return.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model":   c.cfg.ImageModel,
		"prompt":  prompt,
		"size":    "1024x1024",
		"quality": "standard",
		"n":       1,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding image request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/images/generations", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling images API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image response: %w", err)
	}

	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
		Error *apiError `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding image response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("images API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return nil, fmt.Errorf("images API returned no image URL")
	}

	return c.download(ctx, parsed.Data[0].URL)
}

// download fetches the generated image bytes.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building image download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading generated image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
