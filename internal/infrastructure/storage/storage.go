package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DefaultReconciledBy is recorded when no acting user is attached to the context.
const DefaultReconciledBy = "system"

// Storage provides SQLite database access for payments, bank lines and
// reconciliations. It implements the Repository interface.
type Storage struct {
	db           *sql.DB
	reconciledBy string
	countryCode  string
	now          func() time.Time
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// Option configures a Storage
type Option func(*Storage)

// WithReconciledBy sets the fallback actor written on reconciliation records.
func WithReconciledBy(name string) Option {
	return func(s *Storage) {
		if name != "" {
			s.reconciledBy = name
		}
	}
}

// WithCountryCode sets the dialling prefix used to normalize phone numbers.
func WithCountryCode(cc string) Option {
	return func(s *Storage) {
		if cc != "" {
			s.countryCode = cc
		}
	}
}

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer and :memory: is per-connection
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{
		db:           db,
		reconciledBy: DefaultReconciledBy,
		countryCode:  "254",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// runMigrations applies the embedded goose migrations
func (s *Storage) runMigrations() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// nullTime converts a zero time to NULL and everything else to UTC
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	v := ns.String
	return &v
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}
