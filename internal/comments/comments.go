// Package comments stores threaded review notes attached to a changeset or a
// single field change, plus the per-user read markers that drive unread
// badges.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound marks lookups of unknown comments or changesets.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks empty content or a bad target combination.
	ErrValidation = errors.New("validation failed")
)

// Comment is one immutable note. Exactly one of ChangesetID / FieldChangeID
// is set.
type Comment struct {
	ID            int64     `json:"id"`
	ChangesetID   *int64    `json:"changeset_id"`
	FieldChangeID *int64    `json:"field_change_id"`
	Author        string    `json:"author"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewComment is the input for AddComment.
type NewComment struct {
	ChangesetID   *int64
	FieldChangeID *int64
	Author        string
	Content       string
}

// Filter narrows GetComments.
type Filter struct {
	ChangesetID   *int64
	FieldChangeID *int64
	Author        string
}

// Store owns the comment and read-marker tables.
type Store struct {
	db *sql.DB
}

// NewStore creates a comment store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// isForeignKeyViolation reports whether err is a Postgres foreign-key
// violation, which here means the comment's target row does not exist.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// AddComment persists a note. Content must be non-empty and exactly one
// target must be set; no partial state is written on validation failure.
func (s *Store) AddComment(ctx context.Context, in NewComment) (*Comment, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if in.Author == "" {
		return nil, fmt.Errorf("%w: author is required", ErrValidation)
	}
	if (in.ChangesetID == nil) == (in.FieldChangeID == nil) {
		return nil, fmt.Errorf("%w: exactly one of changeset_id and field_change_id must be set", ErrValidation)
	}

	c := &Comment{
		ChangesetID:   in.ChangesetID,
		FieldChangeID: in.FieldChangeID,
		Author:        in.Author,
		Content:       in.Content,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO changeset_comments (changeset_id, field_change_id, author, content, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, c.ChangesetID, c.FieldChangeID, c.Author, c.Content).Scan(&c.ID, &c.CreatedAt)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("%w: comment target does not exist", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", err)
	}

	log.Debug().Int64("comment_id", c.ID).Str("author", c.Author).Msg("Added comment")
	return c, nil
}

// GetComments lists comments matching the filter, oldest first.
func (s *Store) GetComments(ctx context.Context, f Filter) ([]Comment, error) {
	query := `
		SELECT id, changeset_id, field_change_id, author, content, created_at
		FROM changeset_comments
		WHERE 1=1`
	var args []any
	if f.ChangesetID != nil {
		args = append(args, *f.ChangesetID)
		query += fmt.Sprintf(" AND changeset_id = $%d", len(args))
	}
	if f.FieldChangeID != nil {
		args = append(args, *f.FieldChangeID)
		query += fmt.Sprintf(" AND field_change_id = $%d", len(args))
	}
	if f.Author != "" {
		args = append(args, f.Author)
		query += fmt.Sprintf(" AND author = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ChangesetID, &c.FieldChangeID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return out, nil
}

// GetCommentCounts returns per-changeset comment counts for list-view badges.
// Comments on a changeset's field changes count toward that changeset.
func (s *Store) GetCommentCounts(ctx context.Context, changesetIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(changesetIDs))
	if len(changesetIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT cs_id, COUNT(*)
		FROM (
			SELECT COALESCE(c.changeset_id, fc.changeset_id) AS cs_id
			FROM changeset_comments c
			LEFT JOIN field_changes fc ON fc.id = c.field_change_id
		) targeted
		WHERE cs_id = ANY($1)
		GROUP BY cs_id
	`, pq.Array(changesetIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan comment count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comment counts: %w", err)
	}
	return counts, nil
}

// MarkAsRead advances the user's read marker for a changeset to now.
func (s *Store) MarkAsRead(ctx context.Context, userID string, changesetID int64) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_read_markers (user_id, changeset_id, last_read_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, changeset_id)
		DO UPDATE SET last_read_at = NOW()
	`, userID, changesetID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: changeset %d", ErrNotFound, changesetID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark changeset %d read: %w", changesetID, err)
	}
	return nil
}

// GetUnreadComments lists comments created after the user's read marker for
// their changeset (or on changesets never marked), excluding the user's own.
func (s *Store) GetUnreadComments(ctx context.Context, userID string) ([]Comment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.changeset_id, c.field_change_id, c.author, c.content, c.created_at
		FROM changeset_comments c
		LEFT JOIN field_changes fc ON fc.id = c.field_change_id
		LEFT JOIN comment_read_markers m
			ON m.user_id = $1
			AND m.changeset_id = COALESCE(c.changeset_id, fc.changeset_id)
		WHERE c.author <> $1
		  AND (m.last_read_at IS NULL OR c.created_at > m.last_read_at)
		ORDER BY c.created_at, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ChangesetID, &c.FieldChangeID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unread comments: %w", err)
	}
	return out, nil
}

// GetUnreadStatusForChangesets returns the subset of ids that carry comments
// unread by the user.
func (s *Store) GetUnreadStatusForChangesets(ctx context.Context, userID string, changesetIDs []int64) (map[int64]bool, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	unread := make(map[int64]bool, len(changesetIDs))
	if len(changesetIDs) == 0 {
		return unread, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT COALESCE(c.changeset_id, fc.changeset_id) AS cs_id
		FROM changeset_comments c
		LEFT JOIN field_changes fc ON fc.id = c.field_change_id
		LEFT JOIN comment_read_markers m
			ON m.user_id = $1
			AND m.changeset_id = COALESCE(c.changeset_id, fc.changeset_id)
		WHERE c.author <> $1
		  AND COALESCE(c.changeset_id, fc.changeset_id) = ANY($2)
		  AND (m.last_read_at IS NULL OR c.created_at > m.last_read_at)
	`, userID, pq.Array(changesetIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query unread status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unread changeset id: %w", err)
		}
		unread[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unread status: %w", err)
	}
	return unread, nil
}
