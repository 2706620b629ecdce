package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"
	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// fakeTransport records outgoing traffic and serves canned media.
type fakeTransport struct {
	mu      sync.Mutex
	replies []string
	directs []string
	images  []string // captions
	typing  int

	downloadData []byte
	downloadMime string
	downloadErr  error
	replyErr     error

	recv chan *channels.IncomingMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan *channels.IncomingMessage, 8)}
}

func (f *fakeTransport) Name() string                       { return "fake" }
func (f *fakeTransport) Connect(context.Context) error      { return nil }
func (f *fakeTransport) Disconnect() error                  { return nil }
func (f *fakeTransport) IsConnected() bool                  { return true }
func (f *fakeTransport) Receive() <-chan *channels.IncomingMessage { return f.recv }

func (f *fakeTransport) Reply(_ context.Context, _ *channels.IncomingMessage, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeTransport) SendDirect(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directs = append(f.directs, text)
	return nil
}

func (f *fakeTransport) SendImage(_ context.Context, _ string, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, caption)
	return nil
}

func (f *fakeTransport) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeTransport) DownloadMedia(context.Context, *channels.IncomingMessage) ([]byte, string, error) {
	return f.downloadData, f.downloadMime, f.downloadErr
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string{}, f.replies...)
	return append(out, f.directs...)
}

// fakeAI is the completion/transcription/image backend double.
type fakeAI struct {
	mu          sync.Mutex
	completion  string
	completeErr error
	lastHistory []session.HistoryEntry

	transcript    string
	transcribeErr error

	imageData []byte
	imageErr  error
}

func (f *fakeAI) Complete(_ context.Context, history []session.HistoryEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHistory = append([]session.HistoryEntry{}, history...)
	return f.completion, f.completeErr
}

func (f *fakeAI) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeAI) GenerateImage(context.Context, string) ([]byte, error) {
	return f.imageData, f.imageErr
}

// fakeDirectory is an in-memory UserDirectory.
type fakeDirectory struct {
	mu        sync.Mutex
	users     map[string]*directory.User
	createErr error
	nextID    int64
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]*directory.User{}}
}

func (f *fakeDirectory) LookupByPhone(_ context.Context, phone string) (*directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[phone], nil
}

func (f *fakeDirectory) Create(_ context.Context, phone, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	if _, exists := f.users[phone]; exists {
		return 0, directory.ErrDuplicatePhone
	}
	f.nextID++
	f.users[phone] = &directory.User{ID: f.nextID, Phone: phone, Name: name}
	return f.nextID, nil
}

func (f *fakeDirectory) TouchInteraction(context.Context, string) error { return nil }

// fakeScripts is the sandbox double.
type fakeScripts struct {
	output    string
	available []string
	lastName  string
	lastArgs  []string
}

func (f *fakeScripts) Run(_ context.Context, name string, args []string) string {
	f.lastName = name
	f.lastArgs = args
	return f.output
}

func (f *fakeScripts) Available() []string { return f.available }

// testStore opens a throwaway session store.
func testStore(t *testing.T, maxHistory int) *session.Store {
	t.Helper()
	s, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), maxHistory, nil)
	if err != nil {
		t.Fatalf("opening session store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// textMessage builds a plain inbound text message.
func textMessage(chatID, phone, text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "msg-1",
		ChatID:  chatID,
		Phone:   phone,
		Type:    channels.MessageText,
		Content: text,
	}
}
