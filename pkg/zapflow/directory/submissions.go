// Package directory – submissions.go stores registration form submissions
// received via the webhook gateway.
package directory

import (
	"context"
	"fmt"
	"time"
)

// Submission is one registration form submission. Field names follow the
// form that posts them (Brazilian Portuguese).
type Submission struct {
	ID          int64     `json:"id"`
	Protocolo   string    `json:"protocolo"`
	Nome        string    `json:"nome"`
	Email       string    `json:"email"`
	Telefone    string    `json:"telefone"`
	Whatsapp    string    `json:"whatsapp,omitempty"`
	CEP         string    `json:"cep,omitempty"`
	Endereco    string    `json:"endereco,omitempty"`
	Numero      string    `json:"numero,omitempty"`
	Complemento string    `json:"complemento,omitempty"`
	Bairro      string    `json:"bairro,omitempty"`
	Cidade      string    `json:"cidade,omitempty"`
	Estado      string    `json:"estado,omitempty"`
	Genero      string    `json:"genero,omitempty"`
	CpfCnpj     string    `json:"cpf_cnpj,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSubmission stores a form submission and returns its ID.
func (d *Directory) CreateSubmission(ctx context.Context, s *Submission) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO registrations
			(protocolo, nome, email, telefone, whatsapp, cep, endereco, numero,
			 complemento, bairro, cidade, estado, genero, cpf_cnpj)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		s.Protocolo, s.Nome, s.Email, s.Telefone, s.Whatsapp, s.CEP, s.Endereco,
		s.Numero, s.Complemento, s.Bairro, s.Cidade, s.Estado, s.Genero,
		s.CpfCnpj).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("saving registration submission: %w", err)
	}

	d.logger.Info("registration submission saved", "nome", s.Nome, "id", id)
	return id, nil
}

// AllSubmissions returns every form submission, newest first.
func (d *Directory) AllSubmissions(ctx context.Context) ([]*Submission, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, COALESCE(protocolo, ''), nome, email, telefone,
		       COALESCE(whatsapp, ''), COALESCE(cep, ''), COALESCE(endereco, ''),
		       COALESCE(numero, ''), COALESCE(complemento, ''), COALESCE(bairro, ''),
		       COALESCE(cidade, ''), COALESCE(estado, ''), COALESCE(genero, ''),
		       COALESCE(cpf_cnpj, ''), created_at
		FROM registrations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing registration submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.Protocolo, &s.Nome, &s.Email, &s.Telefone,
			&s.Whatsapp, &s.CEP, &s.Endereco, &s.Numero, &s.Complemento,
			&s.Bairro, &s.Cidade, &s.Estado, &s.Genero, &s.CpfCnpj,
			&s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}
