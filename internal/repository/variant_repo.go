package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/models"
)

// variantRepo is the concrete implementation of VariantRepository
type variantRepo struct {
	db dbtx
}

// NewVariantRepo creates a new variant repository
func NewVariantRepo(db *database.DB) VariantRepository {
	return &variantRepo{db: db}
}

const variantColumns = `id, post_id, channel_id, language_code, source_type, text_markdown, text_html,
	photo_url, remote_message_id, status, translation_requested, translation_received_at,
	translation_failures, manually_edited, published_at, error_message, meta,
	modified_at, created_at, updated_at`

// CreateIfNotExists inserts a variant, relying on the (post_id, channel_id)
// unique constraint to make repeated fan-out a no-op
func (r *variantRepo) CreateIfNotExists(ctx context.Context, v *models.Variant) (bool, error) {
	meta, err := encodeMeta(v.Meta)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO post_variants (` + variantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (post_id, channel_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		v.ID, v.PostID, v.ChannelID, v.LanguageCode, v.SourceType, v.TextMarkdown, v.TextHTML,
		nullString(v.PhotoURL), v.RemoteMessageID, v.Status, v.TranslationRequested,
		nullTime(v.TranslationReceivedAt), v.TranslationFailures, v.ManuallyEdited,
		nullTime(v.PublishedAt), v.ErrorMessage, meta, v.ModifiedAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetByID retrieves a variant by ID
func (r *variantRepo) GetByID(ctx context.Context, id string) (*models.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM post_variants WHERE id = $1`

	v, err := scanVariant(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// GetByPostAndChannel retrieves the variant of a post for one channel
func (r *variantRepo) GetByPostAndChannel(ctx context.Context, postID, channelID string) (*models.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM post_variants WHERE post_id = $1 AND channel_id = $2`

	v, err := scanVariant(r.db.QueryRowContext(ctx, query, postID, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// ListByPost returns all variants of a post
func (r *variantRepo) ListByPost(ctx context.Context, postID string) ([]*models.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM post_variants WHERE post_id = $1 ORDER BY created_at, id`

	return r.list(ctx, query, postID)
}

// ListByPostAndStatuses returns the variants of a post in any of the given statuses
func (r *variantRepo) ListByPostAndStatuses(ctx context.Context, postID string, statuses []models.VariantStatus) ([]*models.Variant, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + variantColumns + ` FROM post_variants
		WHERE post_id = $1 AND status = ANY($2) ORDER BY created_at, id`
	return r.list(ctx, query, postID, pq.Array(names))
}

// ListStatuses reads the current status of every variant of a post
func (r *variantRepo) ListStatuses(ctx context.Context, postID string) ([]models.VariantStatus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status FROM post_variants WHERE post_id = $1`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []models.VariantStatus
	for rows.Next() {
		var s models.VariantStatus
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

const variantUpdate = `
	UPDATE post_variants SET
		language_code = $1, source_type = $2, text_markdown = $3, text_html = $4,
		photo_url = $5, remote_message_id = $6, status = $7, translation_requested = $8,
		translation_received_at = $9, translation_failures = $10, manually_edited = $11,
		published_at = $12, error_message = $13, meta = $14, modified_at = $15, updated_at = $16
	WHERE id = $17`

// Update writes every mutable field of a variant
func (r *variantRepo) Update(ctx context.Context, v *models.Variant) error {
	_, err := r.update(ctx, variantUpdate, v)
	return err
}

// UpdateIfAwaitingTranslation writes the variant only while the stored row is
// still pending translation and not manually edited
func (r *variantRepo) UpdateIfAwaitingTranslation(ctx context.Context, v *models.Variant) (bool, error) {
	query := variantUpdate + `
		AND status = 'pending_translation' AND NOT manually_edited`
	return r.update(ctx, query, v)
}

func (r *variantRepo) update(ctx context.Context, query string, v *models.Variant) (bool, error) {
	meta, err := encodeMeta(v.Meta)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query,
		v.LanguageCode, v.SourceType, v.TextMarkdown, v.TextHTML,
		nullString(v.PhotoURL), v.RemoteMessageID, v.Status, v.TranslationRequested,
		nullTime(v.TranslationReceivedAt), v.TranslationFailures, v.ManuallyEdited,
		nullTime(v.PublishedAt), v.ErrorMessage, meta, v.ModifiedAt, v.UpdatedAt, v.ID,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *variantRepo) list(ctx context.Context, query string, args ...interface{}) ([]*models.Variant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []*models.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func scanVariant(row rowScanner) (*models.Variant, error) {
	var v models.Variant
	var photo sql.NullString
	var remoteID sql.NullInt64
	var receivedAt, publishedAt sql.NullTime
	var meta []byte

	err := row.Scan(
		&v.ID, &v.PostID, &v.ChannelID, &v.LanguageCode, &v.SourceType, &v.TextMarkdown, &v.TextHTML,
		&photo, &remoteID, &v.Status, &v.TranslationRequested, &receivedAt,
		&v.TranslationFailures, &v.ManuallyEdited, &publishedAt, &v.ErrorMessage, &meta,
		&v.ModifiedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.PhotoURL = photo.String
	if remoteID.Valid {
		id := remoteID.Int64
		v.RemoteMessageID = &id
	}
	v.TranslationReceivedAt = timePtr(receivedAt)
	v.PublishedAt = timePtr(publishedAt)
	v.Meta = decodeMeta(meta)
	return &v, nil
}
