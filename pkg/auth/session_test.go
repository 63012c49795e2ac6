package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/browser/browsertest"
	"github.com/entrhq/sessionpilot/pkg/capture"
	"github.com/entrhq/sessionpilot/pkg/types"
)

const adsOrigin = "https://ads.tiktok.com"

func storedState() types.StorageState {
	return types.StorageState{
		Cookies: []types.Cookie{{Name: "sid_tt", Value: "abc", Domain: ".tiktok.com", Path: "/", Secure: true}},
		Origins: []types.OriginStorage{{Origin: adsOrigin, LocalStorage: map[string]string{"lang": "en"}}},
	}
}

func listRequest(page string) browser.InterceptedRequest {
	return browser.InterceptedRequest{
		Method:  "GET",
		URL:     adsOrigin + "/creative_radar_api/v1/top_ads/v2/list?page=" + page + "&limit=20",
		Headers: map[string]string{"Cookie": "sid_tt=abc", "User-Agent": "UA"},
	}
}

// replayingPage applies replayed local storage the way a browser would.
func replayingPage() *browsertest.FakePage {
	page := browsertest.New()
	page.EvaluateFunc = func(expression string, arg any) (any, error) {
		if expression == browser.SetLocalStorageScript {
			entries, _ := arg.(map[string]string)
			page.SetStorage(types.StorageState{
				Cookies: page.Cookies(),
				Origins: []types.OriginStorage{{Origin: page.URL(), LocalStorage: entries}},
			})
		}
		return nil, nil
	}
	return page
}

func TestSessionRestoreReplaysStoredSession(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	sess := types.NewSession("tiktok_user@example.com", "user@example.com", storedState(), nil, time.Now())
	require.NoError(t, sessions.Persist(ctx, sess))

	page := replayingPage()
	page.OnGoto(func(p *browsertest.FakePage, url string) {
		if url == targetURL {
			p.Show(loggedInSel)
		}
	})

	run := NewRun(page, testCreds())
	ok, err := NewSessionRestoreStep(fastEnv(t), sessions, targetURL).Execute(ctx, run)
	require.NoError(t, err)
	require.True(t, ok)

	require.NotNil(t, run.Session())
	assert.Equal(t, sess.ID, run.Session().ID)
	assert.Equal(t, sess.Cookies, page.Cookies())
	assert.Equal(t, []string{"about:blank", adsOrigin, targetURL}, page.Visited)
	assert.Contains(t, page.Evaluations(), browser.SetLocalStorageScript)
}

func TestSessionRestoreFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	sess := types.NewSession("tiktok_user@example.com", "user@example.com", storedState(), nil, time.Now())
	require.NoError(t, sessions.Persist(ctx, sess))

	page := replayingPage()
	run := NewRun(page, testCreds())
	ok, err := NewSessionRestoreStep(fastEnv(t), sessions, targetURL).Execute(ctx, run)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, run.Session())

	state, err := page.StorageState()
	require.NoError(t, err)
	assert.Empty(t, state.Cookies)
	assert.Empty(t, state.Origins)
}

func TestSessionRestoreMissReturnsToLoginPage(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	sess := types.NewSession("tiktok_user@example.com", "user@example.com", storedState(), nil, time.Now())
	require.NoError(t, sessions.Persist(ctx, sess))

	page := replayingPage()
	require.NoError(t, page.Goto(loginURL))

	var seen string
	login := &stubStep{name: "cookie-consent", typ: Login, ok: true, fn: func(run *Run) { seen = run.Page.URL() }}
	steps := []Step{NewSessionRestoreStep(fastEnv(t), sessions, targetURL), login}

	res, err := NewPipeline(steps, nil, nil).Execute(ctx, page, testCreds())
	require.NoError(t, err)
	assert.False(t, res.Restored)
	assert.Equal(t, 1, login.calls)
	assert.Equal(t, loginURL, seen)
	assert.Equal(t, loginURL, page.Visited[len(page.Visited)-1])
}

func TestSessionRestoreWithoutStoredSession(t *testing.T) {
	sessions, _ := newSessionStore(t)
	page := browsertest.New()

	ok, err := NewSessionRestoreStep(fastEnv(t), sessions, targetURL).Execute(context.Background(), NewRun(page, testCreds()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page.Visited)
}

func TestSessionRestoreRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	other := types.NewSession("tiktok_other@example.com", "other@example.com", storedState(), nil, time.Now())
	require.NoError(t, sessions.Persist(ctx, other))

	creds := testCreds()
	creds.SessionPath = other.StoragePath
	page := browsertest.New()

	ok, err := NewSessionRestoreStep(fastEnv(t), sessions, targetURL).Execute(ctx, NewRun(page, creds))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page.Cookies())
}

func TestSessionRestoreSkipsExpiredSession(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	old := types.NewSession("tiktok_user@example.com", "user@example.com", storedState(), nil, time.Now().Add(-25*time.Hour))
	require.NoError(t, sessions.Persist(ctx, old))

	creds := testCreds()
	creds.SessionPath = old.StoragePath
	page := browsertest.New()

	ok, err := NewSessionRestoreStep(fastEnv(t), sessions, targetURL).Execute(ctx, NewRun(page, creds))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page.Visited)
}

func TestPersistRefusesWithoutLoginIndicator(t *testing.T) {
	ctx := context.Background()
	sessions, _ := newSessionStore(t)
	page := browsertest.New()
	page.SetStorage(storedState())

	run := NewRun(page, testCreds())
	ok, err := NewPersistSessionStep(fastEnv(t), sessions, "tiktok").Execute(ctx, run)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCriticalStep)
	assert.Nil(t, run.Session())

	list, err := sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPersistSavesSessionAndLinksCapturedConfigs(t *testing.T) {
	ctx := context.Background()
	sessions, repo := newSessionStore(t)
	c, err := capture.New(repo, capture.Options{}, nil)
	require.NoError(t, err)

	page := browsertest.New()
	page.SetStorage(storedState())
	page.Show(loggedInSel)
	run := NewRun(page, testCreds())
	require.NoError(t, c.Install(ctx, page, run, run.MarkCaptured))

	require.Equal(t, 1, page.Fire(listRequest("1")))
	pending := run.TakePendingConfigs()
	require.Len(t, pending, 1)
	run.AddPendingConfig(pending[0])

	ok, err := NewPersistSessionStep(fastEnv(t), sessions, "tiktok").Execute(ctx, run)
	require.NoError(t, err)
	require.True(t, ok)

	sess := run.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "tiktok_user@example.com", sess.ID)
	assert.Equal(t, "user@example.com", sess.AccountIdentity)
	assert.Equal(t, storedState().Cookies, sess.Cookies)
	assert.Equal(t, "Mozilla/5.0 (browsertest)", sess.Headers["User-Agent"])
	assert.Equal(t, sess.CreatedAt.Add(types.SessionTTL), sess.ExpiresAt)
	assert.Equal(t, pending, sess.APIConfigIDs)

	cfg, err := repo.GetAPIConfig(ctx, pending[0])
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, cfg.LinkedSessionIDs)

	// once bound, new configs are linked straight away
	require.Equal(t, 1, page.Fire(listRequest("2")))
	assert.Empty(t, run.TakePendingConfigs())

	path, err := sessions.Locate(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, sess.StoragePath, path)
}

func TestRequestCaptureSignalsFirstRequestOnce(t *testing.T) {
	ctx := context.Background()
	_, repo := newSessionStore(t)
	c, err := capture.New(repo, capture.Options{}, nil)
	require.NoError(t, err)

	page := browsertest.New()
	run := NewRun(page, testCreds())
	ok, err := NewRequestCaptureStep(fastEnv(t), c).Execute(ctx, run)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, page.RouteCount())

	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, page.Fire(listRequest("1")))
	}
	select {
	case <-run.Captured():
	default:
		t.Fatal("first request not signalled")
	}
	assert.Len(t, run.TakePendingConfigs(), 1)

	configs, err := repo.ListAPIConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}

func TestRequestCaptureFailureIsNotFatal(t *testing.T) {
	_, repo := newSessionStore(t)
	c, err := capture.New(repo, capture.Options{}, nil)
	require.NoError(t, err)

	page := browsertest.New()
	page.Errors["Route"] = errors.New("route refused")
	ok, err := NewRequestCaptureStep(fastEnv(t), c).Execute(context.Background(), NewRun(page, testCreds()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, page.RouteCount())
}

type scrollRecorder struct {
	mu      sync.Mutex
	scrolls []float64
}

func (r *scrollRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scrolls)
}

func scrollPage(height float64, onScroll func(n int)) (*browsertest.FakePage, *scrollRecorder) {
	rec := &scrollRecorder{}
	page := browsertest.New()
	page.EvaluateFunc = func(expression string, arg any) (any, error) {
		switch expression {
		case scrollMetricsScript:
			return map[string]any{"scrollHeight": height, "scrollTop": 0, "windowHeight": 800}, nil
		case scrollToScript:
			rec.mu.Lock()
			top, _ := arg.(float64)
			rec.scrolls = append(rec.scrolls, top)
			n := len(rec.scrolls)
			rec.mu.Unlock()
			if onScroll != nil {
				onScroll(n)
			}
		}
		return nil, nil
	}
	return page, rec
}

func scrollOptions(limit int, delay time.Duration) ScrollOptions {
	return ScrollOptions{
		MaxScrolls:   limit,
		MinStep:      100,
		MaxStep:      300,
		BottomMargin: 500,
		Delay:        browser.Range{Min: delay, Max: delay},
	}
}

func TestNaturalScrollStopsOnceCaptured(t *testing.T) {
	var run *Run
	page, rec := scrollPage(20000, func(n int) {
		if n == 2 {
			run.MarkCaptured()
		}
	})
	run = NewRun(page, testCreds())

	ok, err := NewNaturalScrollStep(fastEnv(t), scrollOptions(10, 20*time.Millisecond)).Execute(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, rec.count())
}

func TestNaturalScrollIsBounded(t *testing.T) {
	page, rec := scrollPage(20000, nil)
	ok, err := NewNaturalScrollStep(fastEnv(t), scrollOptions(3, time.Millisecond)).
		Execute(context.Background(), NewRun(page, testCreds()))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 3, rec.count())

	for i := 1; i < len(rec.scrolls); i++ {
		step := rec.scrolls[i] - rec.scrolls[i-1]
		assert.GreaterOrEqual(t, step, 100.0)
		assert.Less(t, step, 300.0)
	}
}

func TestNaturalScrollStopsNearBottom(t *testing.T) {
	page, rec := scrollPage(1000, nil)
	ok, err := NewNaturalScrollStep(fastEnv(t), scrollOptions(5, time.Millisecond)).
		Execute(context.Background(), NewRun(page, testCreds()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rec.count())
}

func TestNaturalScrollSkippedWhenAlreadyCaptured(t *testing.T) {
	page, rec := scrollPage(20000, nil)
	run := NewRun(page, testCreds())
	run.MarkCaptured()

	ok, err := NewNaturalScrollStep(fastEnv(t), scrollOptions(5, time.Millisecond)).Execute(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, rec.count())
	assert.Empty(t, page.Evaluations())
}

func TestNaturalScrollEvaluateFailure(t *testing.T) {
	page := browsertest.New()
	page.Errors["Evaluate"] = errors.New("page crashed")
	_, err := NewNaturalScrollStep(fastEnv(t), scrollOptions(5, time.Millisecond)).
		Execute(context.Background(), NewRun(page, testCreds()))
	assert.ErrorIs(t, err, ErrUIMismatch)
}
