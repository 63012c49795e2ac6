package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/browser/browsertest"
	"github.com/entrhq/sessionpilot/pkg/capture"
	"github.com/entrhq/sessionpilot/pkg/types"
)

type pageQueue struct {
	pages   []*browsertest.FakePage
	proxies []*types.ProxyConfig
	err     error
}

func (q *pageQueue) Open(proxy *types.ProxyConfig) (browser.Page, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.proxies = append(q.proxies, proxy)
	page := q.pages[0]
	q.pages = q.pages[1:]
	return page, nil
}

// loginPage walks through the login flow: the header entry opens the form
// and submitting it logs the user in while the app calls its API.
func loginPage() *browsertest.FakePage {
	page := browsertest.New().Show(loginEntry)
	page.OnClick(loginEntry, func(p *browsertest.FakePage) {
		p.Show(loginModal).Show(emailInput).Show(passInput).Show(submitButton)
	})
	page.OnClick(submitButton, func(p *browsertest.FakePage) {
		p.SetURL(targetURL)
		p.SetStorage(storedState())
		p.Show(loggedInSel)
		p.Fire(listRequest("1"))
	})
	return page
}

// restoringPage shows the user as logged in as soon as the target loads.
func restoringPage() *browsertest.FakePage {
	page := browsertest.New()
	page.OnGoto(func(p *browsertest.FakePage, url string) {
		if url == targetURL {
			p.Show(loggedInSel)
		}
	})
	return page
}

func testConfig() Config {
	return Config{LoginURL: loginURL, TargetURL: targetURL, SessionIDPrefix: "tiktok"}
}

func TestBuildStepsOrder(t *testing.T) {
	sessions, repo := newSessionStore(t)
	c, err := capture.New(repo, capture.Options{}, nil)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.NaturalScroll = true
	steps := BuildSteps(cfg, Dependencies{Env: fastEnv(t), Sessions: sessions, Capture: c})

	var names []string
	for _, s := range steps {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"session-restore",
		"request-capture-setup",
		"cookie-consent",
		"open-login-modal",
		"login-method-select",
		"fill-credentials",
		"submit-login",
		"captcha-challenge",
		"email-challenge",
		"persist-session",
		"natural-scroll",
	}, names)

	steps = BuildSteps(testConfig(), Dependencies{Env: fastEnv(t), Sessions: sessions})
	assert.Len(t, steps, 9)
	assert.Equal(t, PreSession, steps[0].Type())
}

func TestNewAuthenticatorValidation(t *testing.T) {
	sessions, _ := newSessionStore(t)

	_, err := NewAuthenticator(nil, testConfig(), Dependencies{Sessions: sessions})
	assert.Error(t, err)
	_, err = NewAuthenticator(&pageQueue{}, testConfig(), Dependencies{})
	assert.Error(t, err)
	_, err = NewAuthenticator(&pageQueue{}, Config{}, Dependencies{Sessions: sessions})
	assert.Error(t, err)
}

func TestAuthenticatorLogsInThenRestores(t *testing.T) {
	ctx := context.Background()
	sessions, repo := newSessionStore(t)
	c, err := capture.New(repo, capture.Options{}, nil)
	require.NoError(t, err)

	first, second := loginPage(), restoringPage()
	opener := &pageQueue{pages: []*browsertest.FakePage{first, second}}
	a, err := NewAuthenticator(opener, testConfig(), Dependencies{Env: fastEnv(t), Sessions: sessions, Capture: c})
	require.NoError(t, err)

	creds := testCreds()
	creds.Proxy = &types.ProxyConfig{Protocol: "http", Host: "proxy.local", Port: 8080}

	res, err := a.Run(ctx, creds)
	require.NoError(t, err)
	assert.False(t, res.Restored)
	require.NotNil(t, res.Session)
	assert.Equal(t, "tiktok_user@example.com", res.Session.ID)
	assert.Equal(t, storedState().Cookies, res.Session.Cookies)
	assert.Equal(t, creds.Proxy, res.Session.Proxy)
	assert.Len(t, res.Session.APIConfigIDs, 1)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.Recovered)
	assert.Equal(t, loginURL, first.Visited[0])
	assert.Equal(t, "User@Example.comhunter2", first.Typed)
	assert.True(t, first.Closed)
	assert.Same(t, creds.Proxy, opener.proxies[0])

	res, err = a.Run(ctx, creds)
	require.NoError(t, err)
	assert.True(t, res.Restored)
	require.NotNil(t, res.Session)
	assert.Equal(t, "tiktok_user@example.com", res.Session.ID)
	assert.Equal(t, []string{"session-restore", "request-capture-setup"}, res.Executed)
	assert.Len(t, res.Skipped, 8)
	assert.Empty(t, second.Clicks)
	assert.Equal(t, storedState().Cookies, second.Cookies())
	assert.True(t, second.Closed)
}

func TestAuthenticatorReportsFailingStep(t *testing.T) {
	sessions, _ := newSessionStore(t)
	page := browsertest.New()
	a, err := NewAuthenticator(&pageQueue{pages: []*browsertest.FakePage{page}}, testConfig(),
		Dependencies{Env: fastEnv(t), Sessions: sessions})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), testCreds())
	var sf *StepFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "login-method-select", sf.Step)
	assert.NotEmpty(t, sf.Screenshot)

	require.NotNil(t, res)
	require.Len(t, res.Recovered, 1)
	assert.Equal(t, "open-login-modal", res.Recovered[0].Step)
	assert.Nil(t, res.Session)
	assert.True(t, page.Closed)

	list, err := sessions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthenticatorOpenFailure(t *testing.T) {
	sessions, _ := newSessionStore(t)
	boom := errors.New("browser crashed")
	a, err := NewAuthenticator(&pageQueue{err: boom}, testConfig(), Dependencies{Env: fastEnv(t), Sessions: sessions})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), testCreds())
	assert.ErrorIs(t, err, boom)
}
