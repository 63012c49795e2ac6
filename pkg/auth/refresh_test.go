package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/types"
)

type recordingRunner struct {
	mu    sync.Mutex
	creds []types.Credentials
	err   error
}

func (r *recordingRunner) Run(_ context.Context, creds types.Credentials) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds = append(r.creds, creds)
	return &Result{}, r.err
}

func (r *recordingRunner) calls() []types.Credentials {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Credentials(nil), r.creds...)
}

func knownAccounts(emails ...string) CredentialSource {
	return func(account string) (types.Credentials, bool) {
		for _, e := range emails {
			if e == account {
				return types.Credentials{Email: e, Password: "pw-" + e}, true
			}
		}
		return types.Credentials{}, false
	}
}

func apiConfig() *types.CapturedAPIConfig {
	return &types.CapturedAPIConfig{
		APIVersion:      "v1",
		Parameters:      types.RequestParameters{Method: "GET", URL: adsOrigin + "/creative_radar_api/v1/top_ads/v2/list"},
		IsActive:        true,
		UpdateFrequency: time.Hour,
	}
}

func TestRefresherRunsForMostRecentSessionWhenStale(t *testing.T) {
	ctx := context.Background()
	sessions, repo := newSessionStore(t)

	stale := apiConfig()
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	_, _, err := repo.UpsertAPIConfig(ctx, stale)
	require.NoError(t, err)

	older := types.NewSession("tiktok_a@example.com", "a@example.com", storedState(), nil, time.Now().Add(-3*time.Hour))
	recent := types.NewSession("tiktok_b@example.com", "b@example.com", storedState(), nil, time.Now().Add(-time.Hour))
	unknown := types.NewSession("tiktok_c@example.com", "c@example.com", storedState(), nil, time.Now())
	for _, s := range []*types.Session{older, recent, unknown} {
		require.NoError(t, sessions.Persist(ctx, s))
	}

	runner := &recordingRunner{}
	r, err := NewRefresher(repo, sessions, runner, knownAccounts("a@example.com", "b@example.com"), types.Credentials{}, nil)
	require.NoError(t, err)

	out, err := r.Check(ctx)
	require.NoError(t, err)
	assert.True(t, out.Refreshed())
	assert.Equal(t, "b@example.com", out.Account)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "b@example.com", calls[0].Email)
	assert.Equal(t, "pw-b@example.com", calls[0].Password)
	assert.Equal(t, recent.StoragePath, calls[0].SessionPath)
}

func TestRefresherSkipsWhenConfigIsFresh(t *testing.T) {
	ctx := context.Background()
	sessions, repo := newSessionStore(t)
	id, _, err := repo.UpsertAPIConfig(ctx, apiConfig())
	require.NoError(t, err)

	runner := &recordingRunner{}
	r, err := NewRefresher(repo, sessions, runner, nil, testCreds(), nil)
	require.NoError(t, err)

	out, err := r.Check(ctx)
	require.NoError(t, err)
	assert.False(t, out.Refreshed())
	assert.Equal(t, id, out.Fresh.ID)
	assert.Empty(t, runner.calls())
}

func TestRefresherCreatesSessionWithFallbackAccount(t *testing.T) {
	sessions, repo := newSessionStore(t)
	runner := &recordingRunner{}
	r, err := NewRefresher(repo, sessions, runner, nil, testCreds(), nil)
	require.NoError(t, err)

	out, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", out.Account)
	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].SessionPath)
}

func TestRefresherWithoutAccount(t *testing.T) {
	sessions, repo := newSessionStore(t)
	r, err := NewRefresher(repo, sessions, &recordingRunner{}, nil, types.Credentials{}, nil)
	require.NoError(t, err)

	_, err = r.Check(context.Background())
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestRefresherWrapsRunFailure(t *testing.T) {
	sessions, repo := newSessionStore(t)
	boom := errors.New("browser crashed")
	r, err := NewRefresher(repo, sessions, &recordingRunner{err: boom}, nil, testCreds(), nil)
	require.NoError(t, err)

	out, err := r.Check(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, out)
	assert.Equal(t, "user@example.com", out.Account)
}

func TestRefresherLoopChecksUntilCancelled(t *testing.T) {
	sessions, repo := newSessionStore(t)
	runner := &recordingRunner{err: errors.New("still failing")}
	r, err := NewRefresher(repo, sessions, runner, nil, testCreds(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Loop(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return len(runner.calls()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNewRefresherValidation(t *testing.T) {
	_, err := NewRefresher(nil, nil, nil, nil, types.Credentials{}, nil)
	assert.Error(t, err)
}
