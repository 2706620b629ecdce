// Package gateway – handlers.go implements the endpoint bodies.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/zapflow/pkg/zapflow/directory"
)

// maxSubmissionBody bounds the webhook payload size.
const maxSubmissionBody = 64 << 10

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegistration receives a form submission, persists it, appends it
// to the Excel export, emails a confirmation and greets the submitter on
// WhatsApp. Only persistence is load-bearing; the rest is best-effort.
func (g *Gateway) handleRegistration(w http.ResponseWriter, r *http.Request) {
	if g.users == nil {
		g.writeError(w, http.StatusServiceUnavailable, "registration storage not configured")
		return
	}

	var sub directory.Submission
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBody)
	if err := json.NewDecoder(body).Decode(&sub); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	sub.Nome = strings.TrimSpace(sub.Nome)
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Telefone = strings.TrimSpace(sub.Telefone)
	if sub.Nome == "" || sub.Telefone == "" {
		g.writeError(w, http.StatusBadRequest, "nome and telefone are required")
		return
	}
	if sub.Whatsapp == "" {
		sub.Whatsapp = sub.Telefone
	}
	sub.CreatedAt = time.Now()
	// Protocol number quoted back to the submitter and in the
	// confirmation email.
	sub.Protocolo = uuid.NewString()

	id, err := g.users.CreateSubmission(r.Context(), &sub)
	if err != nil {
		g.logger.Error("submission save failed", "nome", sub.Nome, "error", err)
		g.writeError(w, http.StatusInternalServerError, "could not save submission")
		return
	}
	sub.ID = id

	// Side effects run detached so a slow SMTP server or workbook write
	// never delays the form response.
	go g.fanOut(&sub)

	g.writeJSON(w, http.StatusCreated, map[string]any{
		"id":        id,
		"protocolo": sub.Protocolo,
		"status":    "received",
	})
}

// fanOut performs the non-critical post-submission work.
func (g *Gateway) fanOut(sub *directory.Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if g.exporter != nil && g.exporter.Enabled() {
		if err := g.exporter.Append(sub); err != nil {
			g.logger.Error("excel export failed", "id", sub.ID, "error", err)
		}
	}

	if g.mail != nil && g.mail.Enabled() {
		if err := g.mail.SendConfirmation(ctx, sub); err != nil {
			g.logger.Error("confirmation email failed", "id", sub.ID, "error", err)
		}
	}

	if g.notifier != nil && sub.Whatsapp != "" {
		text := "Olá, " + sub.Nome + "! 🎉 Recebemos seu cadastro. Pode falar comigo por aqui quando quiser!"
		if err := g.notifier.SendDirect(ctx, digitsOnly(sub.Whatsapp), text); err != nil {
			g.logger.Warn("whatsapp welcome failed", "id", sub.ID, "error", err)
		}
	}
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if g.users == nil {
		g.writeError(w, http.StatusServiceUnavailable, "directory not configured")
		return
	}
	users, err := g.users.All(r.Context())
	if err != nil {
		g.logger.Error("user list failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (g *Gateway) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	if g.users == nil {
		g.writeError(w, http.StatusServiceUnavailable, "directory not configured")
		return
	}
	subs, err := g.users.AllSubmissions(r.Context())
	if err != nil {
		g.logger.Error("submission list failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "could not list registrations")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"registrations": subs, "count": len(subs)})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("response encode failed", "error", err)
	}
}

// digitsOnly strips formatting from a phone number for use as a chat ID.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
