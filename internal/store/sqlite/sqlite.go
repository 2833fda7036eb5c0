package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quillbox/quillbox/internal/model"
	"github.com/quillbox/quillbox/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one pooled connection keeps
	// concurrent claims queued instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS posts (
	reference_number INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	main_image TEXT NOT NULL,
	additional_images TEXT,
	submitted_at INTEGER NOT NULL,
	committed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_committed_at ON posts(committed_at);

CREATE TABLE IF NOT EXISTS reference_counter (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next INTEGER NOT NULL
);
INSERT OR IGNORE INTO reference_counter (id, next) VALUES (1, 1);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

// NextReferenceNumber durably claims the next reference number. The
// single UPDATE...RETURNING statement is atomic under sqlite's write
// serialization, so two concurrent callers can never receive the same
// number. A claimed number stays consumed whether or not the
// corresponding Append ever happens.
func (s *Store) NextReferenceNumber(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE reference_counter SET next = next + 1 WHERE id = 1 RETURNING next - 1
`)
	var ref int64
	if err := row.Scan(&ref); err != nil {
		return 0, err
	}
	return ref, nil
}

func (s *Store) Append(ctx context.Context, post *model.Post) error {
	extra, err := json.Marshal(post.AdditionalImages)
	if err != nil {
		return err
	}
	if post.CommittedAt.IsZero() {
		post.CommittedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO posts (reference_number, title, description, main_image, additional_images, submitted_at, committed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, post.ReferenceNumber, post.Title, post.Description, post.MainImage, string(extra), post.SubmittedAt.Unix(), post.CommittedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT reference_number, title, description, main_image, additional_images, submitted_at, committed_at
FROM posts
ORDER BY reference_number ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *Store) GetByReference(ctx context.Context, ref int64) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT reference_number, title, description, main_image, additional_images, submitted_at, committed_at
FROM posts
WHERE reference_number = ?
LIMIT 1
`, ref)
	return scanPost(row)
}

func (s *Store) GetSiteStats(ctx context.Context) (model.SiteStats, error) {
	var stats model.SiteStats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`)
	if err := row.Scan(&stats.Posts); err != nil {
		return stats, err
	}
	row = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) + COALESCE(SUM(json_array_length(additional_images)), 0) FROM posts
`)
	if err := row.Scan(&stats.Images); err != nil {
		return stats, err
	}
	return stats, nil
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	var extraRaw sql.NullString
	var submitted, committed int64
	if err := scanner.Scan(&p.ReferenceNumber, &p.Title, &p.Description, &p.MainImage, &extraRaw, &submitted, &committed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	if extraRaw.Valid && extraRaw.String != "" {
		_ = json.Unmarshal([]byte(extraRaw.String), &p.AdditionalImages)
	}
	p.SubmittedAt = time.Unix(submitted, 0)
	p.CommittedAt = time.Unix(committed, 0)
	return p, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
