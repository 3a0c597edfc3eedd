// Package store persists personas and their aliases in PostgreSQL.
// It backs the persona.Directory used by the dispatcher and supplies
// the alias index with its contents at startup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/jordanhubbard/chorus/internal/persona"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// PersonaStore is a persona.Directory backed by PostgreSQL.
type PersonaStore struct {
	db *sql.DB
}

var _ persona.Directory = (*PersonaStore)(nil)

// NewPersonaStore opens a connection and initializes the schema.
func NewPersonaStore(dsn string) (*PersonaStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PersonaStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PersonaStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS personas (
		full_name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		model_path TEXT NOT NULL DEFAULT '',
		added_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS persona_aliases (
		alias TEXT PRIMARY KEY,
		persona_name TEXT NOT NULL REFERENCES personas(full_name) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_persona_aliases_persona
		ON persona_aliases(persona_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// GetPersona returns the persona with the given full name, with its
// aliases populated. Missing personas return (nil, nil).
func (s *PersonaStore) GetPersona(ctx context.Context, fullName string) (*persona.Persona, error) {
	query := `SELECT full_name, display_name, model_path, added_by FROM personas WHERE full_name = ?`

	p := &persona.Persona{}
	err := s.db.QueryRowContext(ctx, rebind(query), fullName).Scan(
		&p.FullName, &p.DisplayName, &p.ModelPath, &p.AddedBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona %s: %w", fullName, err)
	}

	p.Aliases, err = s.aliasesFor(ctx, fullName)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPersonas returns all personas with their aliases.
func (s *PersonaStore) ListPersonas(ctx context.Context) ([]*persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT full_name, display_name, model_path, added_by FROM personas ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	var out []*persona.Persona
	for rows.Next() {
		p := &persona.Persona{}
		if err := rows.Scan(&p.FullName, &p.DisplayName, &p.ModelPath, &p.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate personas: %w", err)
	}

	for _, p := range out {
		if p.Aliases, err = s.aliasesFor(ctx, p.FullName); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PersonaStore) aliasesFor(ctx context.Context, fullName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`SELECT alias FROM persona_aliases WHERE persona_name = ? ORDER BY alias`), fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases for %s: %w", fullName, err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// UpsertPersona inserts or updates a persona record. Aliases are
// managed separately via SaveAlias/DeleteAlias.
func (s *PersonaStore) UpsertPersona(ctx context.Context, p *persona.Persona) error {
	if p == nil || p.FullName == "" {
		return fmt.Errorf("persona must have a full name")
	}
	query := `
		INSERT INTO personas (full_name, display_name, model_path, added_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (full_name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			model_path = EXCLUDED.model_path,
			added_by = EXCLUDED.added_by,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, rebind(query), p.FullName, p.DisplayName, p.ModelPath, p.AddedBy); err != nil {
		return fmt.Errorf("failed to upsert persona %s: %w", p.FullName, err)
	}
	return nil
}

// DeletePersona removes a persona; its aliases go with it via the
// foreign key cascade.
func (s *PersonaStore) DeletePersona(ctx context.Context, fullName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, rebind(`DELETE FROM personas WHERE full_name = ?`), fullName)
	if err != nil {
		return false, fmt.Errorf("failed to delete persona %s: %w", fullName, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SaveAlias records an alias -> persona mapping. Reassignment of an
// existing alias overwrites the previous owner, matching the alias
// index's reassign semantics.
func (s *PersonaStore) SaveAlias(ctx context.Context, alias, personaName string) error {
	query := `
		INSERT INTO persona_aliases (alias, persona_name)
		VALUES (?, ?)
		ON CONFLICT (alias) DO UPDATE SET persona_name = EXCLUDED.persona_name
	`
	if _, err := s.db.ExecContext(ctx, rebind(query), alias, personaName); err != nil {
		return fmt.Errorf("failed to save alias %s: %w", alias, err)
	}
	return nil
}

// DeleteAlias removes a single alias.
func (s *PersonaStore) DeleteAlias(ctx context.Context, alias string) (bool, error) {
	res, err := s.db.ExecContext(ctx, rebind(`DELETE FROM persona_aliases WHERE alias = ?`), alias)
	if err != nil {
		return false, fmt.Errorf("failed to delete alias %s: %w", alias, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LoadIndex rebuilds an alias index from the stored personas and
// aliases. Called once at startup.
func (s *PersonaStore) LoadIndex(ctx context.Context, ix *persona.AliasIndex) error {
	personas, err := s.ListPersonas(ctx)
	if err != nil {
		return err
	}
	for _, p := range personas {
		if err := ix.AddPersona(p); err != nil {
			return fmt.Errorf("failed to index persona %s: %w", p.FullName, err)
		}
	}
	return nil
}

// Ping checks connection health for the readiness endpoint.
func (s *PersonaStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PersonaStore) Close() error {
	return s.db.Close()
}
