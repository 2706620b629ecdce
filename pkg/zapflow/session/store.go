// Package session – store.go implements the SQLite-backed store with
// per-record access. Sessions are persisted one row per chat instead of a
// single rewritten JSON file, so updates for different chats never contend
// on the same record.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// DefaultMaxHistory is the history bound applied when none is configured.
const DefaultMaxHistory = 10

// Store owns all conversation and pending-registration records.
type Store struct {
	db         *sql.DB
	maxHistory int
	logger     *slog.Logger

	// chatLocks serializes read-modify-write sequences per chat.
	// Cross-chat operations proceed fully in parallel.
	chatLocks   map[string]*sync.Mutex
	chatLocksMu sync.Mutex
}

// Open opens (or creates) the session database at path.
func Open(path string, maxHistory int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	s := &Store{
		db:         db,
		maxHistory: maxHistory,
		logger:     logger.With("component", "session"),
		chatLocks:  make(map[string]*sync.Mutex),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxHistory returns the configured history bound.
func (s *Store) MaxHistory() int {
	return s.maxHistory
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			chat_id    TEXT PRIMARY KEY,
			flow_state TEXT NOT NULL,
			profile    TEXT NOT NULL DEFAULT '{}',
			history    TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pending_registrations (
			phone         TEXT PRIMARY KEY,
			step          TEXT NOT NULL,
			proposed_name TEXT NOT NULL DEFAULT '',
			updated_at    TEXT NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("migrating session schema: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the mutex for chatID. Every
// read-session → decide → write-session sequence in the pipeline runs
// inside this, per the single-chat ordering guarantee.
func (s *Store) WithLock(chatID string, fn func() error) error {
	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (s *Store) lockFor(chatID string) *sync.Mutex {
	s.chatLocksMu.Lock()
	defer s.chatLocksMu.Unlock()
	mu, ok := s.chatLocks[chatID]
	if !ok {
		mu = &sync.Mutex{}
		s.chatLocks[chatID] = mu
	}
	return mu
}

// Get returns the session for chatID, creating the default START session
// if none exists yet.
func (s *Store) Get(ctx context.Context, chatID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT flow_state, profile, history, updated_at
		FROM sessions WHERE chat_id = ?`, chatID)

	var (
		flowState, profile, history, updatedAt string
	)
	err := row.Scan(&flowState, &profile, &history, &updatedAt)
	if err == sql.ErrNoRows {
		conv := newConversation(chatID)
		if err := s.Put(ctx, conv); err != nil {
			return nil, err
		}
		s.logger.Info("new session created", "chat_id", chatID)
		return conv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", chatID, err)
	}

	conv := &Conversation{
		ChatID:    chatID,
		FlowState: FlowState(flowState),
		Profile:   map[string]string{},
		History:   []HistoryEntry{},
	}
	if err := json.Unmarshal([]byte(profile), &conv.Profile); err != nil {
		return nil, fmt.Errorf("decoding profile for %q: %w", chatID, err)
	}
	if err := json.Unmarshal([]byte(history), &conv.History); err != nil {
		return nil, fmt.Errorf("decoding history for %q: %w", chatID, err)
	}
	conv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return conv, nil
}

// Put persists the full session record.
func (s *Store) Put(ctx context.Context, conv *Conversation) error {
	profile, err := json.Marshal(conv.Profile)
	if err != nil {
		return fmt.Errorf("encoding profile for %q: %w", conv.ChatID, err)
	}
	history, err := json.Marshal(conv.History)
	if err != nil {
		return fmt.Errorf("encoding history for %q: %w", conv.ChatID, err)
	}

	conv.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (chat_id, flow_state, profile, history, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ChatID, string(conv.FlowState), string(profile), string(history),
		conv.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving session %q: %w", conv.ChatID, err)
	}
	return nil
}

// AppendHistory appends an entry and truncates to MaxHistory from the front.
func (s *Store) AppendHistory(ctx context.Context, chatID string, entry HistoryEntry) error {
	conv, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}

	conv.History = append(conv.History, entry)
	if excess := len(conv.History) - s.maxHistory; excess > 0 {
		conv.History = conv.History[excess:]
	}

	return s.Put(ctx, conv)
}

// Reset returns the session to START with cleared profile data.
// History is kept; only the flow restarts.
func (s *Store) Reset(ctx context.Context, chatID string) error {
	conv, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	conv.FlowState = StateStart
	conv.Profile = map[string]string{}
	return s.Put(ctx, conv)
}

// ---------- Pending registrations ----------

// GetRegistration returns the pending registration for a phone, or nil.
func (s *Store) GetRegistration(ctx context.Context, phone string) (*Registration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT step, proposed_name, updated_at
		FROM pending_registrations WHERE phone = ?`, phone)

	var step, name, updatedAt string
	err := row.Scan(&step, &name, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading registration %q: %w", phone, err)
	}

	reg := &Registration{Phone: phone, Step: RegistrationStep(step), ProposedName: name}
	reg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return reg, nil
}

// PutRegistration persists a pending registration record.
func (s *Store) PutRegistration(ctx context.Context, reg *Registration) error {
	reg.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_registrations (phone, step, proposed_name, updated_at)
		VALUES (?, ?, ?, ?)`,
		reg.Phone, string(reg.Step), reg.ProposedName,
		reg.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving registration %q: %w", reg.Phone, err)
	}
	return nil
}

// DeleteRegistration removes a pending registration (after confirmation).
func (s *Store) DeleteRegistration(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_registrations WHERE phone = ?`, phone)
	if err != nil {
		return fmt.Errorf("deleting registration %q: %w", phone, err)
	}
	return nil
}

// ---------- Retention ----------

// PurgeIdleSessions deletes sessions not touched since the cutoff.
// Returns the number of sessions removed.
func (s *Store) PurgeIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeStaleRegistrations deletes abandoned pending registrations.
func (s *Store) PurgeStaleRegistrations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_registrations WHERE updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging stale registrations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
