// Package gateway exposes the HTTP surface: the registration form webhook
// and small read-only admin endpoints over the user directory.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
	"github.com/jholhewres/zapflow/pkg/zapflow/export"
	"github.com/jholhewres/zapflow/pkg/zapflow/mailer"
)

// Config holds the gateway configuration.
type Config struct {
	// Enabled turns the HTTP server on.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address.
	Address string `yaml:"address"`

	// AuthToken protects the admin endpoints. The webhook stays open so
	// the public form can post to it. Empty disables admin auth.
	AuthToken string `yaml:"auth_token"`
}

// DefaultConfig returns a disabled gateway bound to loopback.
func DefaultConfig() Config {
	return Config{Address: "127.0.0.1:8090"}
}

// Notifier sends a WhatsApp message outside a chat context, used for the
// post-submission welcome.
type Notifier interface {
	SendDirect(ctx context.Context, chatID, text string) error
}

// Gateway is the HTTP server.
type Gateway struct {
	cfg      Config
	users    *directory.Directory
	exporter *export.Writer
	mail     *mailer.Mailer
	notifier Notifier
	server   *http.Server
	logger   *slog.Logger
}

// New creates the gateway. users may be nil when no directory is
// configured; the webhook then rejects submissions.
func New(cfg Config, users *directory.Directory, exporter *export.Writer, mail *mailer.Mailer, notifier Notifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8090"
	}
	return &Gateway{
		cfg:      cfg,
		users:    users,
		exporter: exporter,
		mail:     mail,
		notifier: notifier,
		logger:   logger.With("component", "gateway"),
	}
}

// Start begins serving. Returns immediately; errors surface in the log.
func (g *Gateway) Start() error {
	if !g.cfg.Enabled {
		g.logger.Info("gateway disabled")
		return nil
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.logRequests)

	r.Get("/healthz", g.handleHealth)
	r.Post("/webhook/registration", g.handleRegistration)

	r.Group(func(r chi.Router) {
		r.Use(g.requireAuth)
		r.Get("/admin/users", g.handleListUsers)
		r.Get("/admin/registrations", g.handleListRegistrations)
	})

	g.server = &http.Server{
		Addr:              g.cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()

	g.logger.Info("gateway started", "address", g.cfg.Address)
	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// logRequests logs each request through slog.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

// requireAuth checks the bearer token on admin routes.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+g.cfg.AuthToken {
			g.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
