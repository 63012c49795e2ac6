package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T, opts ...Option) (*Store, *clock, store.Repository) {
	t.Helper()
	dir := t.TempDir()
	files, err := NewFileStore(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	repo, err := store.NewSQLite(filepath.Join(dir, "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(c.now))
	return NewStore(files, repo, opts...), c, repo
}

func TestPersistThenRestore(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	sess := sampleSession("tiktok_a@x.com", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))

	got, err := s.Restore(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Cookies, got.Cookies)
	assert.Equal(t, c.t.Add(types.SessionTTL), got.ExpiresAt)
}

func TestRestoreExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	sess := sampleSession("id", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))

	c.t = sess.ExpiresAt.Add(-time.Millisecond)
	_, err := s.Restore(ctx, "id")
	require.NoError(t, err)

	c.t = sess.ExpiresAt
	_, err = s.Restore(ctx, "id")
	assert.ErrorIs(t, err, ErrNotFound)

	// the expired blob is not deleted
	_, err = os.Stat(sess.StoragePath)
	assert.NoError(t, err)
}

func TestPersistIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, c, repo := newTestStore(t)

	sess := sampleSession("id", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))
	require.NoError(t, s.Persist(ctx, sess))

	rows, err := repo.ListValidSessions(ctx, c.t)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTouchDoesNotExtendExpiry(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	sess := sampleSession("id", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))
	expires := sess.ExpiresAt

	c.t = c.t.Add(3 * time.Hour)
	require.NoError(t, s.Touch(ctx, sess))

	got, err := s.Restore(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, expires, got.ExpiresAt)
	assert.Equal(t, c.t, got.LastUsedAt)
}

func TestListFiltersExpired(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	old := sampleSession("old", "old@x.com", c.t.Add(-25*time.Hour))
	fresh := sampleSession("fresh", "fresh@x.com", c.t)
	require.NoError(t, s.Persist(ctx, old))
	require.NoError(t, s.Persist(ctx, fresh))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
}

func TestDeleteTwiceSucceeds(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	require.NoError(t, s.Persist(ctx, sampleSession("id", "a@x.com", c.t)))
	require.NoError(t, s.Delete(ctx, "id"))
	require.NoError(t, s.Delete(ctx, "id"))

	_, err := s.Restore(ctx, "id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocateUsesRelationalStore(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newTestStore(t)

	_, err := s.Locate(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	sess := sampleSession("id", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))

	path, err := s.Locate(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, sess.StoragePath, path)

	c.t = sess.ExpiresAt
	_, err = s.Locate(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocatePrefersCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "sp:")
	s, c, _ := newTestStore(t, WithCache(cache))

	sess := sampleSession("id", "a@x.com", c.t)
	require.NoError(t, s.Persist(ctx, sess))

	cached, err := cache.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, sess.StoragePath, cached)

	require.NoError(t, cache.Set(ctx, "a@x.com", "/elsewhere.json", time.Minute))
	path, err := s.Locate(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere.json", path)

	require.NoError(t, s.Delete(ctx, "id"))
	_, err = cache.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestPersistLinksAPIConfigs(t *testing.T) {
	ctx := context.Background()
	s, c, repo := newTestStore(t)

	cfgID, _, err := repo.UpsertAPIConfig(ctx, &types.CapturedAPIConfig{
		APIVersion: "v1",
		Parameters: types.RequestParameters{Method: "GET", URL: "https://x/api/v1/list"},
		IsActive:   true,
	})
	require.NoError(t, err)

	sess := sampleSession("id", "a@x.com", c.t)
	sess.LinkAPIConfig(cfgID)
	require.NoError(t, s.Persist(ctx, sess))

	cfg, err := repo.GetAPIConfig(ctx, cfgID)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, cfg.LinkedSessionIDs)
}
