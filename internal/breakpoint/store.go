package breakpoint

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// Store persists breakpoints in SQLite (modernc.org/sqlite driver,
// CGO-free). Path is a filesystem path; use ":memory:" for tests.
// Protocol ids are deliberately not stored, they die with the session.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at path and ensures the schema.
func NewStore(ctx context.Context, path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{db: d}
	if err := s.ensureSchema(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS breakpoints(
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			condition TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			prompt TEXT NOT NULL DEFAULT '',
			prompt_enabled BOOLEAN NOT NULL DEFAULT 0,
			hit_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (file, line, condition)
		);`)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces the breakpoint at its identity key. The
// hit count of an existing row is preserved.
func (s *Store) Upsert(ctx context.Context, bp Persisted) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breakpoints(file, line, condition, enabled, prompt, prompt_enabled, hit_count)
		VALUES(?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(file, line, condition) DO UPDATE SET
			enabled=excluded.enabled,
			prompt=excluded.prompt,
			prompt_enabled=excluded.prompt_enabled;`,
		bp.File, bp.Line, bp.Condition, bp.Enabled, bp.Prompt, bp.PromptEnabled)
	return err
}

// Remove deletes by identity key. Removing a missing row is not an error.
func (s *Store) Remove(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM breakpoints WHERE file=? AND line=? AND condition=?;`,
		key.File, key.Line, key.Condition)
	return err
}

// List returns all persisted breakpoints ordered by file then line.
func (s *Store) List(ctx context.Context) ([]Persisted, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, line, condition, enabled, prompt, prompt_enabled, hit_count
		FROM breakpoints
		ORDER BY file, line, condition;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Persisted, 0)
	for rows.Next() {
		var bp Persisted
		if err := rows.Scan(&bp.File, &bp.Line, &bp.Condition, &bp.Enabled, &bp.Prompt, &bp.PromptEnabled, &bp.HitCount); err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

// SetEnabled flips the enabled flag without touching anything else.
func (s *Store) SetEnabled(ctx context.Context, key Key, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE breakpoints SET enabled=? WHERE file=? AND line=? AND condition=?;`,
		enabled, key.File, key.Line, key.Condition)
	return err
}

// IncrementHit bumps the persisted hit counter and returns the new value.
func (s *Store) IncrementHit(ctx context.Context, key Key) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE breakpoints SET hit_count=hit_count+1 WHERE file=? AND line=? AND condition=?;`,
		key.File, key.Line, key.Condition)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT hit_count FROM breakpoints WHERE file=? AND line=? AND condition=?;`,
		key.File, key.Line, key.Condition).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
