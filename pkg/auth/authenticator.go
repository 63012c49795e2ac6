package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/captcha"
	"github.com/entrhq/sessionpilot/pkg/capture"
	"github.com/entrhq/sessionpilot/pkg/session"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// Opener opens a fresh browser page for a run.
type Opener interface {
	Open(proxy *types.ProxyConfig) (browser.Page, error)
}

// Config describes the target application.
type Config struct {
	LoginURL        string
	TargetURL       string
	SessionIDPrefix string

	// NaturalScroll appends a scroll step that provokes the API request
	NaturalScroll bool
	Scroll        ScrollOptions
}

// Dependencies are the collaborators of the steps. Capture, Captcha and
// Codes are optional.
type Dependencies struct {
	Env      Env
	Sessions *session.Store
	Capture  *capture.Capture
	Detector *captcha.Detector
	Captcha  *captcha.Resolver
	Codes    CodeSource
}

// Authenticator runs the login pipeline in a freshly opened page.
type Authenticator struct {
	opener   Opener
	cfg      Config
	pipeline *Pipeline
	env      Env
}

// NewAuthenticator wires the pipeline in its fixed order.
func NewAuthenticator(opener Opener, cfg Config, deps Dependencies) (*Authenticator, error) {
	if opener == nil {
		return nil, errors.New("auth: page opener is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("auth: session store is required")
	}
	if cfg.TargetURL == "" {
		return nil, errors.New("auth: target url is required")
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = cfg.TargetURL
	}
	env := deps.Env.withDefaults()
	deps.Env = env

	return &Authenticator{
		opener:   opener,
		cfg:      cfg,
		pipeline: NewPipeline(BuildSteps(cfg, deps), env.Shots, env.Log.With("pipeline")),
		env:      env,
	}, nil
}

// BuildSteps returns the steps in execution order.
func BuildSteps(cfg Config, deps Dependencies) []Step {
	env := deps.Env
	detector := deps.Detector
	if detector == nil {
		detector = captcha.NewDetector(nil, env.withDefaults().Timing.Probe)
	}

	steps := []Step{NewSessionRestoreStep(env, deps.Sessions, cfg.TargetURL)}
	if deps.Capture != nil {
		steps = append(steps, NewRequestCaptureStep(env, deps.Capture))
	}
	steps = append(steps,
		NewCookieConsentStep(env),
		NewOpenLoginModalStep(env),
		NewLoginMethodStep(env),
		NewFillCredentialsStep(env),
		NewSubmitLoginStep(env, detector),
		NewCaptchaStep(env, detector, deps.Captcha),
		NewEmailStep(env, deps.Codes),
		NewPersistSessionStep(env, deps.Sessions, cfg.SessionIDPrefix),
	)
	if cfg.NaturalScroll {
		steps = append(steps, NewNaturalScrollStep(env, cfg.Scroll))
	}
	return steps
}

// Pipeline returns the wired pipeline.
func (a *Authenticator) Pipeline() *Pipeline { return a.pipeline }

// Run opens a page through the credentials' proxy, loads the login URL and
// executes the pipeline. The page is always closed.
func (a *Authenticator) Run(ctx context.Context, creds types.Credentials) (*Result, error) {
	page, err := a.opener.Open(creds.Proxy)
	if err != nil {
		return nil, fmt.Errorf("auth: open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			a.env.Log.Warnf("failed to close page: %v", err)
		}
	}()

	if err := page.Goto(a.cfg.LoginURL); err != nil {
		return nil, fmt.Errorf("auth: open %s: %w", a.cfg.LoginURL, err)
	}

	a.env.Log.Infof("authenticating %s", creds.AccountIdentity())
	res, err := a.pipeline.Execute(ctx, page, creds)
	if err != nil {
		return res, err
	}
	if res.Session == nil {
		return res, errors.New("auth: pipeline finished without a session")
	}
	a.env.Log.Infof("authenticated %s with session %s (restored: %t)", creds.AccountIdentity(), res.Session.ID, res.Restored)
	return res, nil
}
