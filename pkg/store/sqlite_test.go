package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConfig(authHeader string) *types.CapturedAPIConfig {
	return &types.CapturedAPIConfig{
		APIVersion: "v1",
		Parameters: types.RequestParameters{
			Method:  "GET",
			URL:     "https://ads.example.com/creative_radar_api/v1/top_ads/v2/list",
			Headers: map[string]string{"Cookie": "sid=1", "Authorization": authHeader, "Timestamp": time.Now().String()},
			Query:   map[string]string{"page": "1"},
		},
		IsActive:        true,
		UpdateFrequency: time.Hour,
	}
}

func TestUpsertSessionUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := SessionRecord{ID: "tiktok_a@x.com", AccountIdentity: "a@x.com", StoragePath: "/s/1.json",
		CreatedAt: now, ExpiresAt: now.Add(types.SessionTTL), LastUsedAt: now}
	require.NoError(t, s.UpsertSession(ctx, first))

	second := first
	second.StoragePath = "/s/2.json"
	second.ExpiresAt = now.Add(2 * time.Hour)
	require.NoError(t, s.UpsertSession(ctx, second))

	all, err := s.ListValidSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/s/2.json", all[0].StoragePath)
	assert.True(t, all[0].ExpiresAt.Equal(second.ExpiresAt))
}

func TestFindLatestValidSessionSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.UpsertSession(ctx, SessionRecord{ID: "old", AccountIdentity: "a@x.com", StoragePath: "/old",
		CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour), LastUsedAt: now.Add(-25 * time.Hour)}))

	_, err := s.FindLatestValidSession(ctx, "a@x.com", now)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertSession(ctx, SessionRecord{ID: "new", AccountIdentity: "a@x.com", StoragePath: "/new",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now}))

	rec, err := s.FindLatestValidSession(ctx, "a@x.com", now)
	require.NoError(t, err)
	assert.Equal(t, "/new", rec.StoragePath)
}

func TestTouchSessionOnlyMovesLastUsed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := SessionRecord{ID: "id", AccountIdentity: "a", StoragePath: "/p", CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now}
	require.NoError(t, s.UpsertSession(ctx, rec))

	later := now.Add(10 * time.Minute)
	require.NoError(t, s.TouchSession(ctx, "id", later))

	got, err := s.GetSession(ctx, "id")
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.Equal(later))
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))

	assert.ErrorIs(t, s.TouchSession(ctx, "missing", later), ErrNotFound)
}

func TestDeleteSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.UpsertSession(ctx, SessionRecord{ID: "id", AccountIdentity: "a", StoragePath: "/p",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now}))

	require.NoError(t, s.DeleteSession(ctx, "id"))
	require.NoError(t, s.DeleteSession(ctx, "id"))
	_, err := s.GetSession(ctx, "id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAPIConfigDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, created, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer a"))
	require.NoError(t, err)
	assert.True(t, created)

	// differs only by a volatile header
	id2, created, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	id3, created, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer b"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id1, id3)

	configs, err := s.ListAPIConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}

func TestFreshAPIConfig(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.FreshAPIConfig(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	old := sampleConfig("Bearer a")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	id, created, err := s.UpsertAPIConfig(ctx, old)
	require.NoError(t, err)
	require.True(t, created)

	// captured two hours ago with a one hour frequency
	_, err = s.FreshAPIConfig(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	// capturing the same request again refreshes the row
	again, created, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer a"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	fresh, err := s.FreshAPIConfig(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, id, fresh.ID)
	assert.WithinDuration(t, time.Now(), fresh.UpdatedAt, time.Minute)
	assert.True(t, fresh.UpdatedAt.After(fresh.CreatedAt))

	_, err = s.FreshAPIConfig(ctx, time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAPIConfigConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer same"))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestLinkAPIConfig(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.UpsertSession(ctx, SessionRecord{ID: "sess", AccountIdentity: "a", StoragePath: "/p",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastUsedAt: now}))

	id, _, err := s.UpsertAPIConfig(ctx, sampleConfig("Bearer a"))
	require.NoError(t, err)

	require.NoError(t, s.LinkAPIConfig(ctx, id, "sess"))
	require.NoError(t, s.LinkAPIConfig(ctx, id, "sess"))

	cfg, err := s.GetAPIConfig(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess"}, cfg.LinkedSessionIDs)
	assert.Equal(t, "v1", cfg.APIVersion)
	assert.Equal(t, time.Hour, cfg.UpdateFrequency)
	assert.True(t, cfg.IsActive)

	rec, err := s.GetSession(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, rec.APIConfigIDs)

	_, err = s.GetAPIConfig(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerificationCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	code := types.VerificationCode{Code: "AB12CD", MessageID: "42", SenderAddress: "no-reply@x.com",
		Account: "a@x.com", ReceivedAt: time.Now().UTC()}

	saved, err := s.SaveVerificationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, types.CodeUnused, saved.Status)
	assert.Nil(t, saved.UsedAt)

	again, err := s.SaveVerificationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)

	require.NoError(t, s.MarkCodeUsed(ctx, saved.ID, time.Now()))
	assert.ErrorIs(t, s.MarkCodeUsed(ctx, saved.ID, time.Now()), ErrCodeAlreadyUsed)
	assert.ErrorIs(t, s.MarkCodeUsed(ctx, 12345, time.Now()), ErrNotFound)

	// re-saving a used code never resets it
	after, err := s.SaveVerificationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, types.CodeUsed, after.Status)
	require.NotNil(t, after.UsedAt)
}
