package auth

import (
	"context"
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/logging"
)

// Env holds the collaborators every step shares.
type Env struct {
	Selectors *Selectors
	Timing    Timing
	Humanizer *browser.Humanizer
	Shots     *browser.Screenshotter
	Log       *logging.Logger
}

func (e Env) withDefaults() Env {
	if e.Selectors == nil {
		e.Selectors = DefaultSelectors()
	}
	if e.Timing.Probe == 0 && e.Timing.RestoreProbes == nil {
		e.Timing = DefaultTiming()
	}
	if e.Humanizer == nil {
		e.Humanizer = browser.NewHumanizer(browser.DefaultKeyDelay, browser.DefaultFieldPause, 0)
	}
	if e.Log == nil {
		e.Log = logging.NewNop()
	}
	return e
}

// visible returns the first visible selector using the probe timeout.
func (e Env) visible(page browser.Page, selectors []string) (string, bool) {
	return browser.FirstVisible(page, selectors, e.Timing.Probe)
}

func (e Env) loggedIn(page browser.Page, timeout time.Duration) bool {
	_, ok := browser.FirstVisible(page, e.Selectors.LoggedIn, timeout)
	return ok
}

func (e Env) settle(ctx context.Context) error {
	return e.Humanizer.Pause(ctx, e.Timing.Settle)
}

// screenshot saves a diagnostic capture. Failures are only logged.
func (e Env) screenshot(page browser.Page, label string) {
	path, err := e.Shots.Capture(page, label)
	if err != nil {
		e.Log.Warnf("failed to capture %s screenshot: %v", label, err)
		return
	}
	if path != "" {
		e.Log.Debugf("%s screenshot saved to %s", label, path)
	}
}
