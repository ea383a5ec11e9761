package service

import (
	"context"
	"fmt"
	"time"

	"github.com/multichannel-posting-api/internal/metrics"
	"github.com/multichannel-posting-api/internal/models"
	"github.com/multichannel-posting-api/internal/repository"
	"github.com/rs/zerolog"
)

// AggregateStatus derives a post status from the statuses of its variants.
// The second return value is false when the post should keep its current
// status because the variants are still converging.
func AggregateStatus(statuses []models.VariantStatus) (models.PostStatus, bool) {
	total := len(statuses)
	if total == 0 {
		return "", false
	}

	var published, failed, publishing int
	for _, s := range statuses {
		switch s {
		case models.VariantStatusPublished:
			published++
		case models.VariantStatusFailed:
			failed++
		case models.VariantStatusPublishing:
			publishing++
		}
	}

	switch {
	case published == total:
		return models.PostStatusPublished, true
	case failed == total:
		return models.PostStatusFailed, true
	case published > 0 && published+failed == total:
		return models.PostStatusPartialPublished, true
	case publishing > 0:
		return models.PostStatusPublishing, true
	default:
		return "", false
	}
}

// aggregator is the only writer of the post status field. Writes are last
// write wins on a value recomputed from the full variant set.
type aggregator struct {
	posts    repository.PostRepository
	variants repository.VariantRepository
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func newAggregator(repos *repository.Repositories, m *metrics.Metrics, log zerolog.Logger) *aggregator {
	return &aggregator{
		posts:    repos.Post,
		variants: repos.Variant,
		metrics:  m,
		log:      log.With().Str("component", "aggregate").Logger(),
	}
}

// Recompute reads every variant status of the post and writes the derived
// aggregate. It returns the written status, or "" when nothing changed.
func (a *aggregator) Recompute(ctx context.Context, postID string) (models.PostStatus, error) {
	statuses, err := a.variants.ListStatuses(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("failed to list variant statuses: %w", err)
	}

	status, ok := AggregateStatus(statuses)
	if !ok {
		return "", nil
	}
	if err := a.write(ctx, postID, status); err != nil {
		return "", err
	}
	return status, nil
}

// write stores status and stamps published_at the first time any variant is live
func (a *aggregator) write(ctx context.Context, postID string, status models.PostStatus) error {
	var publishedAt *time.Time
	if status == models.PostStatusPublished || status == models.PostStatusPartialPublished {
		now := time.Now().UTC()
		publishedAt = &now
	}

	if err := a.posts.UpdateStatus(ctx, postID, status, publishedAt); err != nil {
		return fmt.Errorf("failed to update post status: %w", err)
	}

	a.metrics.ObserveAggregate(string(status))
	a.log.Debug().Str("post_id", postID).Str("status", string(status)).Msg("Post status updated")
	return nil
}
