// Package mailer sends the registration confirmation email.
// Uses wneessen/go-mail for SMTP delivery.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
)

// Config holds the SMTP configuration. Empty Host disables the mailer.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// From is the sender address, e.g. "ZapFlow <bot@example.com>".
	From string `yaml:"from"`

	// NotifyTo receives an internal copy of every registration. Optional.
	NotifyTo string `yaml:"notify_to"`
}

// Mailer delivers registration confirmations over SMTP.
type Mailer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a mailer.
func New(cfg Config, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{cfg: cfg, logger: logger.With("component", "mailer")}
}

// Enabled reports whether SMTP is configured.
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != ""
}

// SendConfirmation emails the submitter that their registration arrived,
// with an internal copy when notify_to is set.
func (m *Mailer) SendConfirmation(ctx context.Context, s *directory.Submission) error {
	if !m.Enabled() {
		return nil
	}
	if s.Email == "" {
		m.logger.Warn("submission has no email, skipping confirmation", "nome", s.Nome)
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := msg.To(s.Email); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}
	if m.cfg.NotifyTo != "" {
		if err := msg.Bcc(m.cfg.NotifyTo); err != nil {
			return fmt.Errorf("setting notify copy: %w", err)
		}
	}

	msg.Subject("Cadastro recebido ✔")
	msg.SetBodyString(gomail.TypeTextHTML, confirmationBody(s))

	client, err := gomail.NewClient(m.cfg.Host,
		gomail.WithPort(m.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.cfg.Username),
		gomail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending confirmation to %s: %w", s.Email, err)
	}

	m.logger.Info("confirmation sent", "email", s.Email)
	return nil
}

func confirmationBody(s *directory.Submission) string {
	return fmt.Sprintf(`<html><body>
<p>Olá, <strong>%s</strong>!</p>
<p>Recebemos seu cadastro com sucesso. Em breve entraremos em contato
pelo WhatsApp <strong>%s</strong>.</p>
<p>Protocolo: <strong>%s</strong></p>
<p>Até logo! 👋</p>
</body></html>`, s.Nome, s.Whatsapp, s.Protocolo)
}
