package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/captcha"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// CaptchaStep resolves a captcha shown after submitting the login form.
type CaptchaStep struct {
	env      Env
	detector *captcha.Detector
	resolver *captcha.Resolver
}

// NewCaptchaStep creates the captcha step.
func NewCaptchaStep(env Env, detector *captcha.Detector, resolver *captcha.Resolver) *CaptchaStep {
	env = env.withDefaults()
	env.Log = env.Log.With("captcha")
	if detector == nil {
		detector = captcha.NewDetector(nil, env.Timing.Probe)
	}
	return &CaptchaStep{env: env, detector: detector, resolver: resolver}
}

func (s *CaptchaStep) Name() string   { return "captcha-challenge" }
func (s *CaptchaStep) Type() StepType { return Login }

func (s *CaptchaStep) Execute(ctx context.Context, run *Run) (bool, error) {
	det := s.detector.Detect(run.Page)
	if !det.Detected {
		s.env.Log.Debugf("no captcha detected")
		return true, nil
	}
	s.env.Log.Infof("%s captcha detected at %s", det.Type, det.Selector)
	if len(det.Evidence) > 0 && s.env.Shots != nil {
		if path, err := s.env.Shots.Save("captcha-detected", det.Evidence); err != nil {
			s.env.Log.Warnf("failed to save captcha evidence: %v", err)
		} else {
			s.env.Log.Debugf("captcha evidence saved to %s", path)
		}
	}
	if s.resolver == nil {
		return false, fail(ErrExternalService, nil, "captcha detected but no resolver configured")
	}

	err := s.resolver.Resolve(ctx, run.Page, det)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, captcha.ErrTimeout):
		return false, fail(ErrChallengeTimeout, err, "captcha still present")
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, fail(ErrExternalService, err, "resolve captcha")
	}
}

// CodeSource yields emailed verification codes.
type CodeSource interface {
	WaitForCode(ctx context.Context, account string, timeout, interval time.Duration) (*types.VerificationCode, error)
	MarkUsed(ctx context.Context, code *types.VerificationCode) error
}

// enterCodeScript assigns the code to the first visible matching input and
// fires the events a framework listens to.
const enterCodeScript = `({ selector, code }) => {
	const inputs = Array.from(document.querySelectorAll(selector));
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0 && window.getComputedStyle(el).display !== 'none';
	};
	const input = inputs.find(visible) || inputs[0];
	if (!input) return false;
	input.focus();
	input.value = code;
	input.dispatchEvent(new Event('input', { bubbles: true }));
	input.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// clickScript clicks the first visible matching element.
const clickScript = `({ selector }) => {
	const els = Array.from(document.querySelectorAll(selector));
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0 && window.getComputedStyle(el).display !== 'none';
	};
	const el = els.find(visible) || els[0];
	if (!el) return false;
	el.click();
	return true;
}`

// EmailStep enters the code the application emails when it wants to
// confirm a login.
type EmailStep struct {
	env   Env
	codes CodeSource
}

// NewEmailStep creates the email challenge step. codes may be nil when no
// mailbox is configured; the step then fails only if a challenge shows up.
func NewEmailStep(env Env, codes CodeSource) *EmailStep {
	env = env.withDefaults()
	env.Log = env.Log.With("email")
	return &EmailStep{env: env, codes: codes}
}

func (s *EmailStep) Name() string   { return "email-challenge" }
func (s *EmailStep) Type() StepType { return Login }

func (s *EmailStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	marker, ok := s.env.visible(page, s.env.Selectors.EmailChallenge)
	if !ok {
		s.env.Log.Debugf("no email challenge")
		return true, nil
	}
	s.env.Log.Infof("email challenge detected at %s", marker)
	if s.codes == nil {
		return false, fail(ErrExternalService, nil, "email challenge shown but no mailbox configured")
	}

	account := run.Credentials.AccountIdentity()
	code, err := s.codes.WaitForCode(ctx, account, s.env.Timing.CodeTimeout, s.env.Timing.CodeInterval)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fail(ErrExternalService, err, "wait for verification code")
	}
	if code == nil {
		return false, fail(ErrChallengeTimeout, nil, "no unused verification code within %s", s.env.Timing.CodeTimeout)
	}

	before := page.URL()
	entered, err := page.Evaluate(enterCodeScript, map[string]any{
		"selector": strings.Join(s.env.Selectors.CodeInput, ", "),
		"code":     code.Code,
	})
	if err != nil {
		return false, fail(ErrCriticalStep, err, "enter verification code")
	}
	if ok, _ := entered.(bool); !ok {
		return false, fail(ErrCriticalStep, nil, "verification code input not found")
	}

	clicked, err := page.Evaluate(clickScript, map[string]any{
		"selector": strings.Join(s.env.Selectors.CodeSubmit, ", "),
	})
	if ok, _ := clicked.(bool); err != nil || !ok {
		s.env.Log.Debugf("no code submit button, pressing Enter")
		if err := page.PressKey("Enter"); err != nil {
			return false, fail(ErrCriticalStep, err, "submit verification code")
		}
	}

	if s.accepted(ctx, page, before) {
		if err := s.codes.MarkUsed(ctx, code); err != nil {
			s.env.Log.Warnf("failed to mark code %d used: %v", code.ID, err)
		}
		s.env.Log.Infof("verification code accepted")
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	s.env.Log.Warnf("no confirmation within %s, leaving code %d unused", s.env.Timing.CodeAccepted, code.ID)
	return true, nil
}

// accepted waits for a navigation, a success message or the login
// indicator.
func (s *EmailStep) accepted(ctx context.Context, page browser.Page, before string) bool {
	err := browser.Poll(ctx, s.env.Timing.CodePoll, s.env.Timing.CodeAccepted, func() (bool, error) {
		if page.URL() != before {
			return true, nil
		}
		if _, ok := browser.AnyPresent(page, s.env.Selectors.CodeAccepted); ok {
			return true, nil
		}
		return s.env.loggedIn(page, 0), nil
	})
	return err == nil
}
