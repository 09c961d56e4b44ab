package thresholds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, time.Minute), mr
}

func TestSnapshotCacheLoadAndInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	source := &stubSource{snapshot: []Threshold{tier(1, bounded("1000", "5000"), TypeSingle, "gerente")}}

	first, err := cache.Load(ctx, 1, source.ListActive)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, first[0].Range.Min.Equal(dec("1000")))

	second, err := cache.Load(ctx, 1, source.ListActive)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, 1, source.calls, "second load served from redis")

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, err = cache.Load(ctx, 1, source.ListActive)
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}

func TestSnapshotCacheVersionsPerOrg(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	v1, err := cache.Version(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 2))
	again, err := cache.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, v1, again)
}

func TestSnapshotCacheRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewSnapshotCache(client, time.Minute)
	mr.Close()
	source := &stubSource{}
	_, err = NewResolver(source, cache).Resolve(context.Background(), 1, dec("10"))
	require.Error(t, err)
}

func TestNilCacheFallsThrough(t *testing.T) {
	var cache *SnapshotCache
	source := &stubSource{snapshot: []Threshold{tier(1, unbounded("0"), TypeAuto)}}
	out, err := cache.Load(context.Background(), 1, source.ListActive)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, cache.Invalidate(context.Background(), 1))
}

func TestSnapshotCacheLoadSurvivesCancelledCaller(t *testing.T) {
	cache, _ := newTestCache(t)
	snapshot := []Threshold{tier(1, bounded("1000", "5000"), TypeSingle, "gerente")}
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, orgID int64) ([]Threshold, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return snapshot, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := cache.Load(ctx, 1, slow)
		errc <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	close(release)

	failing := func(ctx context.Context, orgID int64) ([]Threshold, error) {
		return nil, errors.New("store unavailable")
	}
	require.Eventually(t, func() bool {
		got, err := cache.Load(context.Background(), 1, failing)
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond, "the shared load completes and fills redis")
}
