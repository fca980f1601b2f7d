package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fieldpulse/lifecycle/internal/health"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

const healthTTL = 10 * time.Minute

// HealthStore decorates a health store with a redis read cache. The latest
// score is read on every rule evaluation, so it is the hottest row in the
// system; writes invalidate before delegating.
type HealthStore struct {
	inner health.HealthStore
	cache *RedisCache
}

// NewHealthStore wraps inner with the cache
func NewHealthStore(inner health.HealthStore, cache *RedisCache) *HealthStore {
	return &HealthStore{inner: inner, cache: cache}
}

func healthKey(accountID uuid.UUID) string {
	return "health:" + accountID.String()
}

func (s *HealthStore) GetLatestHealth(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error) {
	var cached models.HealthScore
	found, err := s.cache.Get(ctx, healthKey(accountID), &cached)
	if err != nil {
		s.cache.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("health cache read failed")
	} else if found {
		return &cached, nil
	}

	score, err := s.inner.GetLatestHealth(ctx, accountID)
	if err != nil || score == nil {
		return score, err
	}
	if err := s.cache.Set(ctx, healthKey(accountID), score, healthTTL); err != nil {
		s.cache.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("health cache write failed")
	}
	return score, nil
}

func (s *HealthStore) SaveHealth(ctx context.Context, score *models.HealthScore) error {
	if err := s.cache.Delete(ctx, healthKey(score.AccountID)); err != nil {
		s.cache.logger.Warn().Err(err).Str("account_id", score.AccountID.String()).Msg("health cache invalidation failed")
	}
	return s.inner.SaveHealth(ctx, score)
}

func (s *HealthStore) AppendHealthEvent(ctx context.Context, event *models.HealthScoreEvent) error {
	return s.inner.AppendHealthEvent(ctx, event)
}

var _ health.HealthStore = (*HealthStore)(nil)
