package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/quibble-app/quibble/internal/model"
	"github.com/quibble-app/quibble/internal/store"

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
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
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
CREATE TABLE IF NOT EXISTS authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	display_name TEXT NOT NULL,
	email TEXT NOT NULL,
	homepage_url TEXT,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_authors_identity ON authors(display_name, email);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER,
	text TEXT NOT NULL,
	attachment TEXT,
	created_at INTEGER NOT NULL,
	author_id INTEGER NOT NULL,
	FOREIGN KEY(parent_id) REFERENCES comments(id),
	FOREIGN KEY(author_id) REFERENCES authors(id)
);
CREATE INDEX IF NOT EXISTS idx_comments_parent_id ON comments(parent_id);
CREATE INDEX IF NOT EXISTS idx_comments_created_at ON comments(created_at DESC);

CREATE TABLE IF NOT EXISTS challenges (
	key TEXT PRIMARY KEY,
	response TEXT NOT NULL,
	question TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
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

// CreateComment persists a comment and its author in a single transaction.
// The author row is reused when one already exists for the (display name,
// email) pair. The parent check runs inside the same transaction, so a
// referenced parent is guaranteed to be durably committed.
func (s *Store) CreateComment(ctx context.Context, author *model.Author, comment *model.Comment) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	authorID, err := upsertAuthor(ctx, tx, author)
	if err != nil {
		return 0, err
	}

	if comment.ParentID != nil {
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id = ?`, *comment.ParentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			err = store.ErrParentNotFound
			return 0, err
		}
		if err != nil {
			return 0, err
		}
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO comments (parent_id, text, attachment, created_at, author_id)
VALUES (?, ?, ?, ?, ?)
`, nullableInt(comment.ParentID), comment.Text, nullIfEmpty(comment.Attachment), comment.CreatedAt.Unix(), authorID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}

	author.ID = authorID
	comment.ID = id
	comment.AuthorID = authorID
	comment.AuthorName = author.DisplayName
	return id, nil
}

func upsertAuthor(ctx context.Context, tx *sql.Tx, author *model.Author) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
SELECT id FROM authors WHERE display_name = ? AND email = ?
`, author.DisplayName, author.Email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if author.CreatedAt.IsZero() {
		author.CreatedAt = time.Now()
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO authors (display_name, email, homepage_url, created_at)
VALUES (?, ?, ?, ?)
`, author.DisplayName, author.Email, nullIfEmpty(author.HomepageURL), author.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetComment(ctx context.Context, id int64) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT c.id, c.parent_id, c.text, c.attachment, c.created_at, c.author_id, a.display_name
FROM comments c
LEFT JOIN authors a ON a.id = c.author_id
WHERE c.id = ?
LIMIT 1
`, id)
	return scanComment(row)
}

func (s *Store) ListChildren(ctx context.Context, parentID int64, order store.Order) ([]model.Comment, error) {
	query, args, err := commentSelect().
		Where(sq.Eq{"c.parent_id": parentID}).
		OrderBy(orderClause(order)).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryComments(ctx, query, args...)
}

func (s *Store) ListRoots(ctx context.Context, opts store.RootListOpts) ([]model.Comment, int64, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := clamp(opts.PerPage, 1, 100)

	query, args, err := commentSelect().
		Where("c.parent_id IS NULL").
		OrderBy(orderClause(opts.Order)).
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	comments, err := s.queryComments(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE parent_id IS NULL`)
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func commentSelect() sq.SelectBuilder {
	return sq.Select(
		"c.id", "c.parent_id", "c.text", "c.attachment", "c.created_at", "c.author_id", "a.display_name",
	).
		From("comments c").
		LeftJoin("authors a ON a.id = c.author_id")
}

// orderClause always breaks ties by id so pagination stays stable.
func orderClause(order store.Order) string {
	switch order {
	case store.OrderCreatedAsc:
		return "c.created_at ASC, c.id ASC"
	case store.OrderAuthorName:
		return "a.display_name ASC, c.id ASC"
	default:
		return "c.created_at DESC, c.id DESC"
	}
}

func (s *Store) queryComments(ctx context.Context, query string, args ...any) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO challenges (key, response, question, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)
`, c.Key, c.Response, c.Question, c.ExpiresAt.Unix(), time.Now().Unix())
	return err
}

// ConsumeChallenge deletes the row and reads it back in one statement, so
// two racing consumers cannot both see the same challenge.
func (s *Store) ConsumeChallenge(ctx context.Context, key string) (model.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM challenges WHERE key = ?
RETURNING key, response, question, expires_at
`, key)
	var c model.Challenge
	var expires int64
	if err := row.Scan(&c.Key, &c.Response, &c.Question, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Challenge{}, store.ErrNotFound
		}
		return model.Challenge{}, err
	}
	c.ExpiresAt = time.Unix(expires, 0)
	return c, nil
}

func (s *Store) PurgeExpiredChallenges(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetSiteStats(ctx context.Context) (model.SiteStats, error) {
	var stats model.SiteStats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM authors`)
	if err := row.Scan(&stats.Authors); err != nil {
		return stats, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`)
	if err := row.Scan(&stats.Comments); err != nil {
		return stats, err
	}
	return stats, nil
}

func scanComment(scanner interface{ Scan(dest ...any) error }) (model.Comment, error) {
	var c model.Comment
	var parentID sql.NullInt64
	var attachment sql.NullString
	var created int64
	var authorName sql.NullString
	if err := scanner.Scan(&c.ID, &parentID, &c.Text, &attachment, &created, &c.AuthorID, &authorName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrNotFound
		}
		return model.Comment{}, err
	}
	if parentID.Valid {
		pid := parentID.Int64
		c.ParentID = &pid
	}
	if attachment.Valid {
		c.Attachment = attachment.String
	}
	if authorName.Valid {
		c.AuthorName = authorName.String
	}
	c.CreatedAt = time.Unix(created, 0)
	return c, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
