package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/models"
)

// postRepo is the concrete implementation of PostRepository
type postRepo struct {
	db dbtx
}

// NewPostRepo creates a new post repository
func NewPostRepo(db *database.DB) PostRepository {
	return &postRepo{db: db}
}

const postColumns = `id, group_id, internal_title, primary_channel_id, primary_text_markdown,
	primary_photo_url, auto_translate, status, scheduled_at, published_at,
	disable_web_page_preview, disable_notification, created_at, updated_at`

// Create inserts a new post
func (r *postRepo) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		post.ID, post.GroupID, post.InternalTitle, post.PrimaryChannelID, post.SourceText,
		nullString(post.PhotoURL), post.AutoTranslate, post.Status,
		nullTime(post.ScheduledAt), nullTime(post.PublishedAt),
		post.DisableWebPagePreview, post.DisableNotification, post.CreatedAt, post.UpdatedAt,
	)
	return err
}

// GetByID retrieves a post by ID
func (r *postRepo) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	var p models.Post
	var photo sql.NullString
	var scheduledAt, publishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.GroupID, &p.InternalTitle, &p.PrimaryChannelID, &p.SourceText,
		&photo, &p.AutoTranslate, &p.Status, &scheduledAt, &publishedAt,
		&p.DisableWebPagePreview, &p.DisableNotification, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.PhotoURL = photo.String
	p.ScheduledAt = timePtr(scheduledAt)
	p.PublishedAt = timePtr(publishedAt)
	return &p, nil
}

// Update writes the editable content fields of a post. Status is written
// only through UpdateStatus.
func (r *postRepo) Update(ctx context.Context, post *models.Post) error {
	query := `
		UPDATE posts SET
			internal_title = $1, primary_text_markdown = $2, primary_photo_url = $3,
			auto_translate = $4, scheduled_at = $5, disable_web_page_preview = $6,
			disable_notification = $7, updated_at = $8
		WHERE id = $9
	`
	_, err := r.db.ExecContext(ctx, query,
		post.InternalTitle, post.SourceText, nullString(post.PhotoURL), post.AutoTranslate,
		nullTime(post.ScheduledAt), post.DisableWebPagePreview, post.DisableNotification,
		post.UpdatedAt, post.ID,
	)
	return err
}

// UpdateStatus overwrites the aggregate status (last write wins).
// published_at is only set once.
func (r *postRepo) UpdateStatus(ctx context.Context, id string, status models.PostStatus, publishedAt *time.Time) error {
	query := `
		UPDATE posts SET
			status = $1,
			published_at = COALESCE(published_at, $2),
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, nullTime(publishedAt), time.Now().UTC(), id)
	return err
}

// ListDueScheduled returns posts whose scheduled time has passed and which
// have not started publishing
func (r *postRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Post, error) {
	query := `
		SELECT id, group_id, status, scheduled_at FROM posts
		WHERE scheduled_at IS NOT NULL AND scheduled_at <= $1
			AND status IN ('draft', 'ready_for_publish')
		ORDER BY scheduled_at
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		var p models.Post
		var scheduledAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Status, &scheduledAt); err != nil {
			return nil, err
		}
		p.ScheduledAt = timePtr(scheduledAt)
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// ListWithPendingTranslations returns ids of auto-translating posts with
// pending variants below the failure ceiling that are either unrequested or
// requested with no live translation task left to answer them
func (r *postRepo) ListWithPendingTranslations(ctx context.Context, maxFailures int) ([]string, error) {
	query := `
		SELECT DISTINCT p.id FROM posts p
		JOIN post_variants v ON v.post_id = p.id
		WHERE p.auto_translate
			AND v.source_type = 'auto_translated'
			AND v.status = 'pending_translation'
			AND NOT v.manually_edited
			AND v.translation_failures < $1
			AND (NOT v.translation_requested OR NOT EXISTS (
				SELECT 1 FROM tasks t
				WHERE t.status IN ('pending', 'running')
					AND ((t.type = 'request_translations' AND t.entity_id = p.id::text)
						OR (t.type = 'translate_variant' AND t.entity_id = v.id::text))
			))
	`
	rows, err := r.db.QueryContext(ctx, query, maxFailures)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
