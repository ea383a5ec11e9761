package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/models"
)

// channelRepo is the concrete implementation of ChannelRepository
type channelRepo struct {
	db dbtx
}

// NewChannelRepo creates a new channel repository
func NewChannelRepo(db *database.DB) ChannelRepository {
	return &channelRepo{db: db}
}

const channelColumns = `id, group_id, telegram_chat_id, title, username, language_code, is_active,
	bot_is_admin, bot_can_post, bot_can_edit, bot_can_delete, bot_can_read,
	member_count, permissions_checked_at, meta, created_at, updated_at`

// CreateGroup inserts a new channel group. A taken name yields ErrDuplicate.
func (r *channelRepo) CreateGroup(ctx context.Context, group *models.ChannelGroup) error {
	query := `
		INSERT INTO channel_groups (id, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		group.ID, group.Name, group.Description, group.IsActive, group.CreatedAt, group.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetGroup retrieves a channel group by ID
func (r *channelRepo) GetGroup(ctx context.Context, id string) (*models.ChannelGroup, error) {
	query := `SELECT id, name, description, is_active, created_at, updated_at FROM channel_groups WHERE id = $1`

	var g models.ChannelGroup
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.Description, &g.IsActive, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Upsert inserts a channel or refreshes the existing row with the same chat id.
// The stored id wins on conflict and is written back to channel.ID.
func (r *channelRepo) Upsert(ctx context.Context, channel *models.ChannelTarget) error {
	meta, err := encodeMeta(channel.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO channels (id, group_id, telegram_chat_id, title, username, language_code, is_active,
			bot_is_admin, bot_can_post, bot_can_edit, bot_can_delete, bot_can_read,
			member_count, permissions_checked_at, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (telegram_chat_id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			language_code = EXCLUDED.language_code,
			is_active = EXCLUDED.is_active,
			bot_is_admin = EXCLUDED.bot_is_admin,
			bot_can_post = EXCLUDED.bot_can_post,
			bot_can_edit = EXCLUDED.bot_can_edit,
			bot_can_delete = EXCLUDED.bot_can_delete,
			bot_can_read = EXCLUDED.bot_can_read,
			member_count = EXCLUDED.member_count,
			permissions_checked_at = EXCLUDED.permissions_checked_at,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	caps := channel.Capabilities
	return r.db.QueryRowContext(ctx, query,
		channel.ID, channel.GroupID, channel.TelegramChatID, channel.Title,
		nullString(channel.Username), nullString(channel.LanguageCode), channel.IsActive,
		caps.IsAdmin, caps.CanPost, caps.CanEdit, caps.CanDelete, caps.CanRead,
		channel.MemberCount, nullTime(channel.PermissionsCheckedAt), meta,
		channel.CreatedAt, channel.UpdatedAt,
	).Scan(&channel.ID)
}

// GetByID retrieves a channel by ID
func (r *channelRepo) GetByID(ctx context.Context, id string) (*models.ChannelTarget, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	c, err := scanChannel(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListActiveByGroup returns active channels of a group ordered by creation
func (r *channelRepo) ListActiveByGroup(ctx context.Context, groupID string) ([]*models.ChannelTarget, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE group_id = $1 AND is_active ORDER BY created_at, id`
	return r.list(ctx, query, groupID)
}

// ListActive returns all active channels
func (r *channelRepo) ListActive(ctx context.Context) ([]*models.ChannelTarget, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE is_active ORDER BY created_at, id`
	return r.list(ctx, query)
}

// UpdateInfo stores title and member count fetched from the gateway
func (r *channelRepo) UpdateInfo(ctx context.Context, id, title string, memberCount int) error {
	query := `UPDATE channels SET title = $1, member_count = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, title, memberCount, time.Now().UTC(), id)
	return err
}

// UpdateCapabilities stores bot permission flags fetched from the gateway
func (r *channelRepo) UpdateCapabilities(ctx context.Context, id string, caps models.Capabilities, checkedAt time.Time) error {
	query := `
		UPDATE channels SET
			bot_is_admin = $1, bot_can_post = $2, bot_can_edit = $3, bot_can_delete = $4,
			bot_can_read = $5, permissions_checked_at = $6, updated_at = $6
		WHERE id = $7
	`
	_, err := r.db.ExecContext(ctx, query,
		caps.IsAdmin, caps.CanPost, caps.CanEdit, caps.CanDelete, caps.CanRead, checkedAt, id,
	)
	return err
}

func (r *channelRepo) list(ctx context.Context, query string, args ...interface{}) ([]*models.ChannelTarget, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*models.ChannelTarget
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func scanChannel(row rowScanner) (*models.ChannelTarget, error) {
	var c models.ChannelTarget
	var username, language sql.NullString
	var checkedAt sql.NullTime
	var meta []byte

	err := row.Scan(
		&c.ID, &c.GroupID, &c.TelegramChatID, &c.Title, &username, &language, &c.IsActive,
		&c.Capabilities.IsAdmin, &c.Capabilities.CanPost, &c.Capabilities.CanEdit,
		&c.Capabilities.CanDelete, &c.Capabilities.CanRead,
		&c.MemberCount, &checkedAt, &meta, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Username = username.String
	c.LanguageCode = language.String
	c.PermissionsCheckedAt = timePtr(checkedAt)
	c.Meta = decodeMeta(meta)
	return &c, nil
}
