package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
)

// NewRepositories returns in-memory repositories wired together
func NewRepositories() (*repository.Repositories, *Store) {
	store := &Store{
		Channels: NewMockChannelRepository(),
		Posts:    NewMockPostRepository(),
		Variants: NewMockVariantRepository(),
		Tasks:    NewMockTaskRepository(),
	}
	store.Posts.variants = store.Variants
	store.Posts.tasks = store.Tasks
	return &repository.Repositories{
		Channel: store.Channels,
		Post:    store.Posts,
		Variant: store.Variants,
		Task:    store.Tasks,
	}, store
}

// Store gives tests direct access to the mock repositories
type Store struct {
	Channels *MockChannelRepository
	Posts    *MockPostRepository
	Variants *MockVariantRepository
	Tasks    *MockTaskRepository
}

// MockChannelRepository is a mock implementation of ChannelRepository
type MockChannelRepository struct {
	mu       sync.Mutex
	Groups   map[string]*models.ChannelGroup
	Channels map[string]*models.ChannelTarget
	Err      error
}

var _ repository.ChannelRepository = (*MockChannelRepository)(nil)

func NewMockChannelRepository() *MockChannelRepository {
	return &MockChannelRepository{
		Groups:   make(map[string]*models.ChannelGroup),
		Channels: make(map[string]*models.ChannelTarget),
	}
}

func (m *MockChannelRepository) CreateGroup(ctx context.Context, group *models.ChannelGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, g := range m.Groups {
		if g.Name == group.Name {
			return repository.ErrDuplicate
		}
	}
	g := *group
	m.Groups[group.ID] = &g
	return nil
}

func (m *MockChannelRepository) GetGroup(ctx context.Context, id string) (*models.ChannelGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Groups[id]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (m *MockChannelRepository) Upsert(ctx context.Context, channel *models.ChannelTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.Channels {
		if existing.TelegramChatID == channel.TelegramChatID {
			channel.ID = existing.ID
			channel.CreatedAt = existing.CreatedAt
			break
		}
	}
	c := *channel
	m.Channels[c.ID] = &c
	return nil
}

// Add stores a channel as is
func (m *MockChannelRepository) Add(channel *models.ChannelTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *channel
	m.Channels[c.ID] = &c
}

func (m *MockChannelRepository) GetByID(ctx context.Context, id string) (*models.ChannelTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Channels[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockChannelRepository) ListActiveByGroup(ctx context.Context, groupID string) ([]*models.ChannelTarget, error) {
	return m.list(func(c *models.ChannelTarget) bool { return c.IsActive && c.GroupID == groupID })
}

func (m *MockChannelRepository) ListActive(ctx context.Context) ([]*models.ChannelTarget, error) {
	return m.list(func(c *models.ChannelTarget) bool { return c.IsActive })
}

func (m *MockChannelRepository) list(match func(*models.ChannelTarget) bool) ([]*models.ChannelTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.ChannelTarget
	for _, c := range m.Channels {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockChannelRepository) UpdateInfo(ctx context.Context, id, title string, memberCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Channels[id]; ok {
		c.Title = title
		c.MemberCount = memberCount
	}
	return nil
}

func (m *MockChannelRepository) UpdateCapabilities(ctx context.Context, id string, caps models.Capabilities, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Channels[id]; ok {
		c.Capabilities = caps
		c.PermissionsCheckedAt = &checkedAt
	}
	return nil
}

// MockPostRepository is a mock implementation of PostRepository
type MockPostRepository struct {
	mu       sync.Mutex
	Posts    map[string]*models.Post
	variants *MockVariantRepository
	tasks    *MockTaskRepository
	// StatusWrites records every aggregate write in order
	StatusWrites []models.PostStatus
	Err          error
}

var _ repository.PostRepository = (*MockPostRepository)(nil)

func NewMockPostRepository() *MockPostRepository {
	return &MockPostRepository{
		Posts: make(map[string]*models.Post),
	}
}

func (m *MockPostRepository) Create(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	p := *post
	m.Posts[post.ID] = &p
	return nil
}

func (m *MockPostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockPostRepository) Update(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	existing, ok := m.Posts[post.ID]
	if !ok {
		return nil
	}
	p := *post
	p.Status = existing.Status
	p.PublishedAt = existing.PublishedAt
	m.Posts[post.ID] = &p
	return nil
}

func (m *MockPostRepository) UpdateStatus(ctx context.Context, id string, status models.PostStatus, publishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusWrites = append(m.StatusWrites, status)
	p, ok := m.Posts[id]
	if !ok {
		return nil
	}
	p.Status = status
	if p.PublishedAt == nil && publishedAt != nil {
		t := *publishedAt
		p.PublishedAt = &t
	}
	return nil
}

func (m *MockPostRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Post
	for _, p := range m.Posts {
		if p.ScheduledAt == nil || p.ScheduledAt.After(now) {
			continue
		}
		if p.Status != models.PostStatusDraft && p.Status != models.PostStatusReadyForPublish {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (m *MockPostRepository) ListWithPendingTranslations(ctx context.Context, maxFailures int) ([]string, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.Posts))
	for id, p := range m.Posts {
		if p.AutoTranslate {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var out []string
	for _, id := range ids {
		variants, _ := m.variants.ListByPost(ctx, id)
		for _, v := range variants {
			if v.SourceType == models.SourceTypeAutoTranslated &&
				v.Status == models.VariantStatusPendingTranslation &&
				!v.ManuallyEdited &&
				v.TranslationFailures < maxFailures &&
				(!v.TranslationRequested || !m.hasLiveTranslation(ctx, id, v.ID)) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (m *MockPostRepository) hasLiveTranslation(ctx context.Context, postID, variantID string) bool {
	if m.tasks == nil {
		return false
	}
	if t, _ := m.tasks.GetLive(ctx, models.TaskTypeRequestTranslations, postID); t != nil {
		return true
	}
	t, _ := m.tasks.GetLive(ctx, models.TaskTypeTranslateVariant, variantID)
	return t != nil
}

// Status returns the stored aggregate status of a post
func (m *MockPostRepository) Status(id string) models.PostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Posts[id]; ok {
		return p.Status
	}
	return ""
}

// MockVariantRepository is a mock implementation of VariantRepository
type MockVariantRepository struct {
	mu       sync.Mutex
	Variants map[string]*models.Variant
	// Updates counts Update calls per variant
	Updates   map[string]int
	UpdateErr error
	// UpdateHook, when set, runs before every write and can fail it
	UpdateHook func(v *models.Variant) error
}

var _ repository.VariantRepository = (*MockVariantRepository)(nil)

func NewMockVariantRepository() *MockVariantRepository {
	return &MockVariantRepository{
		Variants: make(map[string]*models.Variant),
		Updates:  make(map[string]int),
	}
}

func copyVariant(v *models.Variant) *models.Variant {
	cp := *v
	if v.Meta != nil {
		cp.Meta = make(map[string]string, len(v.Meta))
		for k, val := range v.Meta {
			cp.Meta[k] = val
		}
	}
	return &cp
}

func (m *MockVariantRepository) CreateIfNotExists(ctx context.Context, v *models.Variant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Variants {
		if existing.PostID == v.PostID && existing.ChannelID == v.ChannelID {
			return false, nil
		}
	}
	m.Variants[v.ID] = copyVariant(v)
	return true, nil
}

func (m *MockVariantRepository) GetByID(ctx context.Context, id string) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Variants[id]
	if !ok {
		return nil, nil
	}
	return copyVariant(v), nil
}

func (m *MockVariantRepository) GetByPostAndChannel(ctx context.Context, postID, channelID string) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.Variants {
		if v.PostID == postID && v.ChannelID == channelID {
			return copyVariant(v), nil
		}
	}
	return nil, nil
}

func (m *MockVariantRepository) ListByPost(ctx context.Context, postID string) ([]*models.Variant, error) {
	return m.ListByPostAndStatuses(ctx, postID, nil)
}

func (m *MockVariantRepository) ListByPostAndStatuses(ctx context.Context, postID string, statuses []models.VariantStatus) ([]*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Variant
	for _, v := range m.Variants {
		if v.PostID != postID || !hasStatus(statuses, v.Status) {
			continue
		}
		out = append(out, copyVariant(v))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func hasStatus(statuses []models.VariantStatus, s models.VariantStatus) bool {
	if statuses == nil {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *MockVariantRepository) ListStatuses(ctx context.Context, postID string) ([]models.VariantStatus, error) {
	variants, err := m.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	statuses := make([]models.VariantStatus, len(variants))
	for i, v := range variants {
		statuses[i] = v.Status
	}
	return statuses, nil
}

func (m *MockVariantRepository) Update(ctx context.Context, v *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeWrite(v); err != nil {
		return err
	}
	m.Variants[v.ID] = copyVariant(v)
	m.Updates[v.ID]++
	return nil
}

func (m *MockVariantRepository) UpdateIfAwaitingTranslation(ctx context.Context, v *models.Variant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beforeWrite(v); err != nil {
		return false, err
	}
	stored, ok := m.Variants[v.ID]
	if !ok || stored.Status != models.VariantStatusPendingTranslation || stored.ManuallyEdited {
		return false, nil
	}
	m.Variants[v.ID] = copyVariant(v)
	m.Updates[v.ID]++
	return true, nil
}

func (m *MockVariantRepository) beforeWrite(v *models.Variant) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if m.UpdateHook != nil {
		return m.UpdateHook(v)
	}
	return nil
}

// ByChannel returns the variant of a post for a channel, or nil
func (m *MockVariantRepository) ByChannel(postID, channelID string) *models.Variant {
	v, _ := m.GetByPostAndChannel(context.Background(), postID, channelID)
	return v
}

// MockTaskRepository is a mock implementation of TaskRepository
type MockTaskRepository struct {
	mu    sync.Mutex
	Tasks map[string]*models.Task
	Err   error
}

var _ repository.TaskRepository = (*MockTaskRepository)(nil)

func NewMockTaskRepository() *MockTaskRepository {
	return &MockTaskRepository{
		Tasks: make(map[string]*models.Task),
	}
}

func isLive(t *models.Task) bool {
	return t.Status == models.TaskStatusPending || t.Status == models.TaskStatusRunning
}

func (m *MockTaskRepository) Enqueue(ctx context.Context, task *models.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	for _, t := range m.Tasks {
		if t.Type == task.Type && t.EntityID == task.EntityID && isLive(t) {
			return false, nil
		}
	}
	t := *task
	m.Tasks[task.ID] = &t
	return true, nil
}

func (m *MockTaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MockTaskRepository) GetLive(ctx context.Context, taskType models.TaskType, entityID string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tasks {
		if t.Type == taskType && t.EntityID == entityID && isLive(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockTaskRepository) GetPendingTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.Task
	for _, t := range m.Tasks {
		if t.Status == models.TaskStatusPending && !t.RunAt.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].RunAt.Before(out[j].RunAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTaskRepository) MarkTaskAsRunning(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[taskID]
	if !ok || t.Status != models.TaskStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	t.Status = models.TaskStatusRunning
	t.Attempts++
	t.StartedAt = &now
	return true, nil
}

func (m *MockTaskRepository) MarkCompleted(ctx context.Context, taskID string) error {
	return m.finish(taskID, models.TaskStatusCompleted, "")
}

func (m *MockTaskRepository) MarkFailed(ctx context.Context, taskID, lastError string) error {
	return m.finish(taskID, models.TaskStatusFailed, lastError)
}

func (m *MockTaskRepository) finish(taskID string, status models.TaskStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Tasks[taskID]; ok {
		now := time.Now().UTC()
		t.Status = status
		t.CompletedAt = &now
		if lastError != "" {
			t.LastError = lastError
		}
	}
	return nil
}

func (m *MockTaskRepository) Reschedule(ctx context.Context, taskID string, runAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Tasks[taskID]; ok {
		t.Status = models.TaskStatusPending
		t.RunAt = runAt
		t.LastError = lastError
	}
	return nil
}

func (m *MockTaskRepository) RequeueStale(ctx context.Context, startedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.Tasks {
		if t.Status == models.TaskStatusRunning && t.StartedAt != nil && t.StartedAt.Before(startedBefore) {
			t.Status = models.TaskStatusPending
			t.RunAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// ByType returns copies of all tasks of a type, optionally filtered by entity
func (m *MockTaskRepository) ByType(taskType models.TaskType, entityIDs ...string) []*models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.Tasks {
		if t.Type != taskType {
			continue
		}
		if len(entityIDs) > 0 && !containsString(entityIDs, t.EntityID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Live counts pending or running tasks
func (m *MockTaskRepository) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.Tasks {
		if isLive(t) {
			n++
		}
	}
	return n
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
