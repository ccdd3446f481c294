package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// Migrate applies every pending *.sql file in fsys inside its own
// transaction. Files already applied must keep their checksum.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id          TEXT PRIMARY KEY,
			checksum    TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_ms BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	ms, err := parseMigrations(fsys)
	if err != nil {
		return err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	if err := checkApplied(ms, applied); err != nil {
		return err
	}

	for _, m := range ms {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		start := time.Now()
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (id, checksum, duration_ms) VALUES ($1, $2, $3)`,
				m.ID, m.Checksum, time.Since(start).Milliseconds())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.ID, err)
		}
		log.Info().Str("migration", m.ID).Dur("took", time.Since(start)).Msg("migration applied")
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func parseMigrations(fsys fs.FS) ([]migration, error) {
	var out []migration
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, migration{
			ID:       path.Base(p),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(body)),
			SQL:      string(body),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse migrations: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func checkApplied(ms []migration, applied map[string]string) error {
	for _, m := range ms {
		if sum, ok := applied[m.ID]; ok && sum != m.Checksum {
			return fmt.Errorf("migration %s was modified after it was applied", m.ID)
		}
	}
	return nil
}
