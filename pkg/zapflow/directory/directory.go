// Package directory implements the registered-user directory and the
// registration form storage, backed by PostgreSQL. Uniqueness of the phone
// key is enforced by the database; duplicate attempts are reported to the
// caller, never retried here.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// ErrDuplicatePhone is returned by Create when the phone already exists.
var ErrDuplicatePhone = errors.New("phone already registered")

// User is one registered user.
type User struct {
	ID              int64     `json:"id"`
	Phone           string    `json:"phone"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Config holds directory database configuration.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string `yaml:"url"`

	// MaxOpenConns caps the connection pool size.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 10}
}

// Directory wraps the PostgreSQL connection for user records.
type Directory struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("directory: database URL not configured")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening directory database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	d := &Directory{db: db, logger: logger.With("component", "directory")}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the underlying database.
func (d *Directory) Close() error {
	return d.db.Close()
}

func (d *Directory) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id               SERIAL PRIMARY KEY,
			phone            VARCHAR(20) UNIQUE NOT NULL,
			name             VARCHAR(255) NOT NULL,
			created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_interaction TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("migrating users table: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS registrations (
			id          SERIAL PRIMARY KEY,
			protocolo   VARCHAR(36) UNIQUE,
			nome        VARCHAR(255) NOT NULL,
			email       VARCHAR(255) NOT NULL,
			telefone    VARCHAR(20) NOT NULL,
			whatsapp    VARCHAR(20),
			cep         VARCHAR(10),
			endereco    VARCHAR(255),
			numero      VARCHAR(20),
			complemento VARCHAR(255),
			bairro      VARCHAR(100),
			cidade      VARCHAR(100),
			estado      VARCHAR(2),
			genero      VARCHAR(50),
			cpf_cnpj    VARCHAR(20),
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("migrating registrations table: %w", err)
	}

	d.logger.Info("directory schema ready")
	return nil
}

// LookupByPhone returns the user for a phone, or nil if not registered.
func (d *Directory) LookupByPhone(ctx context.Context, phone string) (*User, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, phone, name, created_at, last_interaction
		FROM users WHERE phone = $1`, phone)

	var u User
	err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.CreatedAt, &u.LastInteraction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %q: %w", phone, err)
	}
	return &u, nil
}

// Create registers a new user. Returns ErrDuplicatePhone when the phone
// is already taken (unique constraint), any other error as-is.
func (d *Directory) Create(ctx context.Context, phone, name string) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO users (phone, name) VALUES ($1, $2) RETURNING id`,
		phone, name).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, ErrDuplicatePhone
		}
		return 0, fmt.Errorf("creating user %q: %w", phone, err)
	}

	d.logger.Info("user created", "phone", phone, "name", name)
	return id, nil
}

// TouchInteraction updates the last-interaction timestamp for a phone.
func (d *Directory) TouchInteraction(ctx context.Context, phone string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET last_interaction = NOW() WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("touching interaction for %q: %w", phone, err)
	}
	return nil
}

// All returns every registered user, newest first.
func (d *Directory) All(ctx context.Context) ([]*User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, phone, name, created_at, last_interaction
		FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Phone, &u.Name, &u.CreatedAt, &u.LastInteraction); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
