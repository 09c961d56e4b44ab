package thresholds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SnapshotCache keeps the active thresholds of each organization in Redis
// under a per-organization version that is bumped on every mutation.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSnapshotCache instantiates the cache helper.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

// Loader fetches the snapshot from the store on a miss.
type Loader func(ctx context.Context, orgID int64) ([]Threshold, error)

func versionKey(orgID int64) string {
	return fmt.Sprintf("procurement:thresholds:%d:version", orgID)
}

func snapshotKey(orgID, version int64) string {
	return fmt.Sprintf("procurement:thresholds:%d:v%d", orgID, version)
}

// Version returns the current snapshot version, initialising when missing.
func (c *SnapshotCache) Version(ctx context.Context, orgID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(orgID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(orgID)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Load returns the cached snapshot or populates it using loader. Concurrent
// misses for the same version share one loader call, which outlives the
// cancellation of the caller that started it.
func (c *SnapshotCache) Load(ctx context.Context, orgID int64, loader Loader) ([]Threshold, error) {
	if loader == nil {
		return nil, errors.New("thresholds: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx, orgID)
	}
	ver, err := c.Version(ctx, orgID)
	if err != nil {
		return nil, err
	}
	key := snapshotKey(orgID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snapshot []Threshold
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, err
		}
		return snapshot, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		snapshot, err := loader(loadCtx, orgID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return snapshot, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Threshold), nil
	}
}

// Invalidate bumps the organization version so the next Load reloads.
func (c *SnapshotCache) Invalidate(ctx context.Context, orgID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(orgID)).Err()
}
