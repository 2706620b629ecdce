// Package retention runs the scheduled cleanup of idle chat sessions and
// abandoned pending registrations.
// Uses robfig/cron for schedule parsing and execution.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

// Config holds the retention sweeper configuration.
type Config struct {
	// Schedule is a cron expression for the sweep. Empty disables the
	// sweeper entirely.
	Schedule string `yaml:"schedule"`

	// SessionTTL is how long an idle session survives. Zero keeps
	// sessions forever.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// RegistrationTTL is how long an unanswered registration exchange
	// survives. Zero keeps them forever.
	RegistrationTTL time.Duration `yaml:"registration_ttl"`
}

// DefaultConfig returns the default retention policy: a daily sweep at
// 04:00, 30-day sessions, 7-day pending registrations.
func DefaultConfig() Config {
	return Config{
		Schedule:        "0 4 * * *",
		SessionTTL:      30 * 24 * time.Hour,
		RegistrationTTL: 7 * 24 * time.Hour,
	}
}

// Sweeper purges stale records on a cron schedule.
type Sweeper struct {
	cfg      Config
	sessions *session.Store
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a retention sweeper.
func New(cfg Config, sessions *session.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.With("component", "retention"),
	}
}

// Start registers the sweep job and begins the scheduler. A disabled or
// invalid schedule is not fatal; the bot just runs without cleanup.
func (s *Sweeper) Start() {
	if s.cfg.Schedule == "" {
		s.logger.Info("retention disabled")
		return
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		s.logger.Error("invalid retention schedule, cleanup disabled",
			"schedule", s.cfg.Schedule, "error", err)
		s.cron = nil
		return
	}

	s.cron.Start()
	s.logger.Info("retention started",
		"schedule", s.cfg.Schedule,
		"session_ttl", s.cfg.SessionTTL,
		"registration_ttl", s.cfg.RegistrationTTL)
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one purge pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	if s.cfg.SessionTTL > 0 {
		n, err := s.sessions.PurgeIdleSessions(ctx, now.Add(-s.cfg.SessionTTL))
		if err != nil {
			s.logger.Error("session purge failed", "error", err)
		} else if n > 0 {
			s.logger.Info("idle sessions purged", "count", n)
		}
	}

	if s.cfg.RegistrationTTL > 0 {
		n, err := s.sessions.PurgeStaleRegistrations(ctx, now.Add(-s.cfg.RegistrationTTL))
		if err != nil {
			s.logger.Error("registration purge failed", "error", err)
		} else if n > 0 {
			s.logger.Info("stale registrations purged", "count", n)
		}
	}
}
