package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/multichannel-posting-api/internal/database"
	"github.com/multichannel-posting-api/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique constraint
var ErrDuplicate = errors.New("duplicate record")

// ChannelRepository defines the interface for channel and group data operations
type ChannelRepository interface {
	CreateGroup(ctx context.Context, group *models.ChannelGroup) error
	GetGroup(ctx context.Context, id string) (*models.ChannelGroup, error)
	Upsert(ctx context.Context, channel *models.ChannelTarget) error
	GetByID(ctx context.Context, id string) (*models.ChannelTarget, error)
	ListActiveByGroup(ctx context.Context, groupID string) ([]*models.ChannelTarget, error)
	ListActive(ctx context.Context) ([]*models.ChannelTarget, error)
	UpdateInfo(ctx context.Context, id, title string, memberCount int) error
	UpdateCapabilities(ctx context.Context, id string, caps models.Capabilities, checkedAt time.Time) error
}

// PostRepository defines the interface for parent post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	// UpdateStatus overwrites the aggregate status. Callers always pass a
	// value recomputed from the full variant set.
	UpdateStatus(ctx context.Context, id string, status models.PostStatus, publishedAt *time.Time) error
	ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Post, error)
	ListWithPendingTranslations(ctx context.Context, maxFailures int) ([]string, error)
}

// VariantRepository defines the interface for post variant data operations
type VariantRepository interface {
	// CreateIfNotExists inserts the variant unless one already exists for
	// the (post, channel) pair. It reports whether a row was inserted.
	CreateIfNotExists(ctx context.Context, variant *models.Variant) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Variant, error)
	GetByPostAndChannel(ctx context.Context, postID, channelID string) (*models.Variant, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Variant, error)
	ListByPostAndStatuses(ctx context.Context, postID string, statuses []models.VariantStatus) ([]*models.Variant, error)
	ListStatuses(ctx context.Context, postID string) ([]models.VariantStatus, error)
	Update(ctx context.Context, variant *models.Variant) error
	// UpdateIfAwaitingTranslation is Update guarded by the stored row still
	// being pending_translation and not manually edited. It reports whether
	// the row was written.
	UpdateIfAwaitingTranslation(ctx context.Context, variant *models.Variant) (bool, error)
}

// TaskRepository defines the interface for the task queue
type TaskRepository interface {
	// Enqueue inserts the task unless a pending or running task with the
	// same type and entity exists. It reports whether a row was inserted.
	Enqueue(ctx context.Context, task *models.Task) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Task, error)
	GetLive(ctx context.Context, taskType models.TaskType, entityID string) (*models.Task, error)
	GetPendingTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	MarkTaskAsRunning(ctx context.Context, taskID string) (bool, error)
	MarkCompleted(ctx context.Context, taskID string) error
	MarkFailed(ctx context.Context, taskID, lastError string) error
	Reschedule(ctx context.Context, taskID string, runAt time.Time, lastError string) error
	RequeueStale(ctx context.Context, startedBefore time.Time) (int, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	Channel ChannelRepository
	Post    PostRepository
	Variant VariantRepository
	Task    TaskRepository

	begin func(ctx context.Context, fn func(tx *Repositories) error) error
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	repos := bind(db)
	repos.begin = func(ctx context.Context, fn func(tx *Repositories) error) error {
		return db.WithTx(ctx, func(tx *sql.Tx) error {
			return fn(bind(tx))
		})
	}
	return repos
}

func bind(q dbtx) *Repositories {
	return &Repositories{
		Channel: &channelRepo{db: q},
		Post:    &postRepo{db: q},
		Variant: &variantRepo{db: q},
		Task:    &taskRepo{db: q},
	}
}

// InTx runs fn with repositories bound to a single transaction. Repositories
// without a database behind them (in-memory fakes) run fn directly.
func (r *Repositories) InTx(ctx context.Context, fn func(tx *Repositories) error) error {
	if r.begin == nil {
		return fn(r)
	}
	return r.begin(ctx, fn)
}

// dbtx is satisfied by *database.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// helper to convert empty string to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func decodeMeta(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil || len(meta) == 0 {
		return nil
	}
	return meta
}
