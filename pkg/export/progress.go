package export

import (
	"context"
	"fmt"
	"time"

	"github.com/formforge/platform/pkg/common/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ProgressStore mirrors per-job row counters into redis so status polls
// do not hit the database on the hot path. The database row remains the
// source of truth; redis is a best-effort accelerator.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}
}

func progressKey(jobID uuid.UUID) string {
	return fmt.Sprintf("export:progress:%s", jobID)
}

func (p *ProgressStore) Set(ctx context.Context, jobID uuid.UUID, rows int64) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Set(ctx, progressKey(jobID), rows, p.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("failed to cache job progress")
	}
}

func (p *ProgressStore) Get(ctx context.Context, jobID uuid.UUID) (int64, bool) {
	if p == nil || p.client == nil {
		return 0, false
	}
	rows, err := p.client.Get(ctx, progressKey(jobID)).Int64()
	if err != nil {
		return 0, false
	}
	return rows, true
}

func (p *ProgressStore) Clear(ctx context.Context, jobID uuid.UUID) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Del(ctx, progressKey(jobID)).Err(); err != nil {
		logger.Log.WithError(err).Debug("failed to clear job progress")
	}
}
