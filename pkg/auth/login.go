package auth

import (
	"context"
	"strings"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/captcha"
)

// CookieConsentStep accepts the cookie banner when one is shown. It never
// fails the run.
type CookieConsentStep struct {
	env Env
}

// NewCookieConsentStep creates the cookie consent step.
func NewCookieConsentStep(env Env) *CookieConsentStep {
	env = env.withDefaults()
	env.Log = env.Log.With("cookies")
	return &CookieConsentStep{env: env}
}

func (s *CookieConsentStep) Name() string   { return "cookie-consent" }
func (s *CookieConsentStep) Type() StepType { return Login }

func (s *CookieConsentStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	if _, ok := s.env.visible(page, s.env.Selectors.CookieBanner); !ok {
		s.env.Log.Infof("no cookie banner")
		return true, nil
	}

	for _, candidates := range [][]string{s.env.Selectors.CookieAllow, s.env.Selectors.CookieFallback} {
		sel, ok := s.env.visible(page, candidates)
		if !ok {
			continue
		}
		if err := page.Click(sel); err != nil {
			s.env.Log.Warnf("failed to click %s: %v", sel, err)
			continue
		}
		s.env.Log.Infof("cookie banner accepted with %s", sel)
		if err := s.env.settle(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fail(ErrUIMismatch, nil, "cookie banner shown but no button could be clicked")
}

// OpenLoginModalStep clicks the header login entry unless the login form
// is already on screen.
type OpenLoginModalStep struct {
	env Env
}

// NewOpenLoginModalStep creates the step opening the login modal.
func NewOpenLoginModalStep(env Env) *OpenLoginModalStep {
	env = env.withDefaults()
	env.Log = env.Log.With("login")
	return &OpenLoginModalStep{env: env}
}

func (s *OpenLoginModalStep) Name() string   { return "open-login-modal" }
func (s *OpenLoginModalStep) Type() StepType { return Login }

func (s *OpenLoginModalStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	if _, ok := browser.AnyPresent(page, s.env.Selectors.LoginModal); ok {
		return true, nil
	}
	if _, ok := browser.AnyPresent(page, s.env.Selectors.EmailInput); ok {
		return true, nil
	}

	sel, ok := s.env.visible(page, s.env.Selectors.LoginEntry)
	if !ok {
		return false, fail(ErrUIMismatch, nil, "login entry not found")
	}
	if err := page.Click(sel); err != nil {
		return false, fail(ErrUIMismatch, err, "click login entry")
	}
	s.env.Log.Infof("login modal opened with %s", sel)
	return true, s.env.settle(ctx)
}

// LoginMethodStep chooses the phone/email login method in the modal.
type LoginMethodStep struct {
	env Env
}

// NewLoginMethodStep creates the login method step.
func NewLoginMethodStep(env Env) *LoginMethodStep {
	env = env.withDefaults()
	env.Log = env.Log.With("login")
	return &LoginMethodStep{env: env}
}

func (s *LoginMethodStep) Name() string   { return "login-method-select" }
func (s *LoginMethodStep) Type() StepType { return Login }

func (s *LoginMethodStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	if _, ok := s.env.visible(page, s.env.Selectors.EmailInput); ok {
		s.env.Log.Infof("email form already shown")
		return true, nil
	}

	sel, ok := s.env.visible(page, s.env.Selectors.LoginMethod)
	if !ok {
		return false, fail(ErrCriticalStep, nil, "phone/email login option not found")
	}
	if err := page.Click(sel); err != nil {
		return false, fail(ErrCriticalStep, err, "select phone/email login")
	}
	s.env.Log.Infof("phone/email login selected with %s", sel)
	return true, s.env.settle(ctx)
}

// FillCredentialsStep types the email and password with human cadence.
type FillCredentialsStep struct {
	env Env
}

// NewFillCredentialsStep creates the credential entry step.
func NewFillCredentialsStep(env Env) *FillCredentialsStep {
	env = env.withDefaults()
	env.Log = env.Log.With("login")
	return &FillCredentialsStep{env: env}
}

func (s *FillCredentialsStep) Name() string   { return "fill-credentials" }
func (s *FillCredentialsStep) Type() StepType { return Login }

func (s *FillCredentialsStep) Execute(ctx context.Context, run *Run) (bool, error) {
	creds := run.Credentials
	if creds.Email == "" || creds.Password == "" {
		return false, fail(ErrCriticalStep, nil, "email and password are required")
	}
	page := run.Page

	emailSel, ok := s.env.visible(page, s.env.Selectors.EmailInput)
	if !ok {
		return false, fail(ErrCriticalStep, nil, "email field not found")
	}
	if err := s.env.Humanizer.TypeText(ctx, page, emailSel, creds.Email); err != nil {
		return false, fail(ErrCriticalStep, err, "type email")
	}
	if err := s.env.Humanizer.FieldPause(ctx); err != nil {
		return false, err
	}

	passSel, ok := s.env.visible(page, s.env.Selectors.PasswordInput)
	if !ok {
		return false, fail(ErrCriticalStep, nil, "password field not found")
	}
	if err := s.env.Humanizer.TypeText(ctx, page, passSel, creds.Password); err != nil {
		return false, fail(ErrCriticalStep, err, "type password")
	}
	s.env.Log.Infof("credentials entered")
	return true, nil
}

// SubmitLoginStep submits the login form and classifies the outcome. A
// pending captcha or email challenge counts as success so the challenge
// steps can run.
type SubmitLoginStep struct {
	env      Env
	detector *captcha.Detector
}

// NewSubmitLoginStep creates the submit step. detector may be nil.
func NewSubmitLoginStep(env Env, detector *captcha.Detector) *SubmitLoginStep {
	env = env.withDefaults()
	env.Log = env.Log.With("login")
	if detector == nil {
		detector = captcha.NewDetector(nil, env.Timing.Probe)
	}
	return &SubmitLoginStep{env: env, detector: detector}
}

func (s *SubmitLoginStep) Name() string   { return "submit-login" }
func (s *SubmitLoginStep) Type() StepType { return Login }

func (s *SubmitLoginStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	sel, ok := s.env.visible(page, s.env.Selectors.Submit)
	if !ok {
		return false, fail(ErrCriticalStep, nil, "login button not found")
	}
	if err := s.env.Humanizer.Pause(ctx, s.env.Timing.BeforeSubmit); err != nil {
		return false, err
	}
	if err := page.Click(sel); err != nil {
		return false, fail(ErrCriticalStep, err, "click login button")
	}
	if err := s.env.Humanizer.Pause(ctx, s.env.Timing.AfterSubmit); err != nil {
		return false, err
	}
	s.env.screenshot(page, "login-result")

	switch {
	case s.env.loggedIn(page, s.env.Timing.Probe):
		s.env.Log.Infof("logged in")
		return true, nil
	case s.detector.Detect(page).Detected:
		s.env.Log.Infof("captcha challenge pending")
		return true, nil
	}
	if _, ok := s.env.visible(page, s.env.Selectors.EmailChallenge); ok {
		s.env.Log.Infof("email verification pending")
		return true, nil
	}
	if errSel, ok := s.env.visible(page, s.env.Selectors.LoginError); ok {
		text, _ := page.Text(errSel)
		text = strings.TrimSpace(text)
		if text == "" {
			text = "unknown error"
		}
		return false, fail(ErrCriticalStep, nil, "login rejected: %s", text)
	}
	if strings.Contains(page.URL(), "/login") {
		return false, fail(ErrCriticalStep, nil, "still on the login page")
	}
	s.env.Log.Warnf("login outcome unclear, it is verified before the session is saved")
	return true, nil
}
