package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps published snapshots in redis keyed by explicit
// (form, version). Snapshots are immutable, so cached entries never go
// stale; "latest" lookups always go to storage because a newer version
// may have been published since.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(formID uuid.UUID, version int) string {
	return fmt.Sprintf("export:snapshot:%s:%d", formID, version)
}

func (c *SnapshotCache) Get(ctx context.Context, formID uuid.UUID, version int) (models.FormSnapshot, bool) {
	if c == nil || c.client == nil {
		return models.FormSnapshot{}, false
	}
	data, err := c.client.Get(ctx, snapshotKey(formID, version)).Bytes()
	if err != nil {
		return models.FormSnapshot{}, false
	}
	var snap models.FormSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.FormSnapshot{}, false
	}
	return snap, true
}

func (c *SnapshotCache) Put(ctx context.Context, snap models.FormSnapshot) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotKey(snap.FormID, snap.Version), data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("failed to cache snapshot")
	}
}

// HandleSnapshotEvent warms the cache from form.snapshot.created events
// so the first export against a new version skips the storage read.
func (c *SnapshotCache) HandleSnapshotEvent(ctx context.Context, event models.Event) error {
	formID, err := uuid.Parse(stringField(event.Data, "form_id"))
	if err != nil {
		logger.Log.WithField("event_id", event.ID).Warn("snapshot event carries no parseable form id")
		return nil
	}
	version := intField(event.Data, "version")
	if version < 1 {
		return nil
	}
	snap := models.FormSnapshot{
		FormID:  formID,
		Version: version,
		Name:    stringField(event.Data, "name"),
	}
	if raw, ok := event.Data["schema"].(map[string]interface{}); ok {
		snap.Schema = raw
	}
	if snap.Schema == nil {
		return nil
	}
	c.Put(ctx, snap)
	logger.Log.WithFields(map[string]interface{}{
		"form_id": formID.String(),
		"version": version,
	}).Debug("snapshot cache warmed from event")
	return nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
