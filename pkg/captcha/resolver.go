package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// Mode selects how a detected captcha gets resolved.
type Mode string

const (
	// ModeManual waits for a person to solve the challenge in the browser.
	ModeManual Mode = "manual"
	// ModeAuto asks a Solver and clicks its answer, then waits like ModeManual.
	ModeAuto Mode = "auto"
)

// ErrTimeout is returned when the challenge is still present after the window.
var ErrTimeout = errors.New("captcha: not resolved within the wait window")

// DefaultConfirmSelectors submit a shapes answer.
var DefaultConfirmSelectors = []string{
	`.verify-captcha-submit-button`,
	`.captcha_verify_action button:has-text("Confirm")`,
	`button:has-text("Confirm")`,
}

// Options tunes the resolution loop.
type Options struct {
	Mode             Mode
	Window           time.Duration
	Interval         time.Duration
	ScreenshotEvery  int
	ProgressEvery    int
	MaxSolveAttempts int

	// ClickJitter is the maximum pixel offset added to each click
	ClickJitter float64
	ClickDelay  browser.Range

	// SuccessSelectors signal that the flow moved past the captcha, such as
	// the email code form
	SuccessSelectors []string
	ConfirmSelectors []string
}

// DefaultOptions returns the standard manual-mode loop: one hour of polling
// every ten seconds.
func DefaultOptions() Options {
	return Options{
		Mode:             ModeManual,
		Window:           time.Hour,
		Interval:         10 * time.Second,
		ScreenshotEvery:  30,
		ProgressEvery:    6,
		MaxSolveAttempts: 3,
		ClickJitter:      3,
		ClickDelay:       browser.Range{Min: 300 * time.Millisecond, Max: 900 * time.Millisecond},
		ConfirmSelectors: DefaultConfirmSelectors,
	}
}

// Resolver waits for a detected captcha to disappear, optionally driving a
// solver first.
type Resolver struct {
	opts      Options
	solver    Solver
	humanizer *browser.Humanizer
	shots     *browser.Screenshotter
	log       *logging.Logger
}

// NewResolver creates a resolver. solver may be nil in manual mode.
func NewResolver(opts Options, solver Solver, humanizer *browser.Humanizer, shots *browser.Screenshotter, log *logging.Logger) (*Resolver, error) {
	def := DefaultOptions()
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.Mode != ModeManual && opts.Mode != ModeAuto {
		return nil, fmt.Errorf("captcha: invalid mode %q", opts.Mode)
	}
	if opts.Mode == ModeAuto && solver == nil {
		return nil, fmt.Errorf("captcha: auto mode requires a solver")
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.ScreenshotEvery <= 0 {
		opts.ScreenshotEvery = def.ScreenshotEvery
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = def.ProgressEvery
	}
	if opts.MaxSolveAttempts <= 0 {
		opts.MaxSolveAttempts = def.MaxSolveAttempts
	}
	if opts.ConfirmSelectors == nil {
		opts.ConfirmSelectors = def.ConfirmSelectors
	}
	if humanizer == nil {
		humanizer = browser.NewHumanizer(browser.DefaultKeyDelay, browser.DefaultFieldPause, 0)
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Resolver{opts: opts, solver: solver, humanizer: humanizer, shots: shots, log: log}, nil
}

// Mode returns the configured mode.
func (r *Resolver) Mode() Mode { return r.opts.Mode }

// Resolve blocks until the challenge is gone, a success marker shows up,
// the window elapses (ErrTimeout) or ctx is done.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, det types.CaptchaDetection) error {
	start := time.Now()
	deadline := start.Add(r.opts.Window)
	solveAttempts := 0
	needSolve := r.opts.Mode == ModeAuto
	image := det.Evidence
	var answered []byte

	r.log.Infof("resolving %s captcha in %s mode (window %s)", det.Type, r.opts.Mode, r.opts.Window)

	for poll := 1; ; poll++ {
		if r.resolved(page, det) {
			r.log.Infof("captcha resolved after %d polls", poll)
			return nil
		}

		if r.opts.Mode == ModeAuto && !needSolve && solveAttempts < r.opts.MaxSolveAttempts {
			// a new puzzle replaces the answered one after a wrong answer
			if current, err := page.ElementScreenshot(det.Selector); err == nil && !bytes.Equal(current, answered) {
				r.log.Infof("captcha image changed, solving again")
				needSolve = true
				image = current
			}
		}
		if needSolve && solveAttempts < r.opts.MaxSolveAttempts {
			solveAttempts++
			shown, err := r.solveOnce(ctx, page, det, image)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warnf("solver attempt %d/%d failed: %v", solveAttempts, r.opts.MaxSolveAttempts, err)
				image = nil
			} else {
				needSolve = false
				answered = shown
			}
		}

		if poll%r.opts.ScreenshotEvery == 0 && r.shots != nil {
			if path, err := r.shots.Capture(page, fmt.Sprintf("captcha-poll-%d", poll)); err != nil {
				r.log.Warnf("failed to take captcha screenshot: %v", err)
			} else {
				r.log.Debugf("captcha screenshot saved to %s", path)
			}
		}
		if poll%r.opts.ProgressEvery == 0 {
			elapsed := time.Since(start)
			r.log.Infof("waiting for captcha... %s elapsed, %s remaining",
				elapsed.Truncate(time.Second), time.Until(deadline).Truncate(time.Second))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %s", ErrTimeout, r.opts.Window)
		}
		if err := browser.Sleep(ctx, min(r.opts.Interval, remaining)); err != nil {
			return err
		}
	}
}

// resolved reports whether the challenge element is gone or the flow has
// moved on.
func (r *Resolver) resolved(page browser.Page, det types.CaptchaDetection) bool {
	if _, ok := browser.FirstVisible(page, r.opts.SuccessSelectors, time.Second); ok {
		return true
	}
	n, err := page.Count(det.Selector)
	if err != nil {
		return false
	}
	return n == 0
}

// solveOnce asks the solver about image, clicks the answer and returns the
// challenge image as it looks afterwards. An empty image is captured first.
func (r *Resolver) solveOnce(ctx context.Context, page browser.Page, det types.CaptchaDetection, image []byte) ([]byte, error) {
	if len(image) == 0 {
		fresh, err := page.ElementScreenshot(det.Selector)
		if err != nil {
			return nil, fmt.Errorf("screenshot challenge: %w", err)
		}
		image = fresh
	}

	sol, err := r.solver.Solve(ctx, det.Type, image)
	if err != nil {
		return nil, err
	}

	box, err := page.BoundingBox(det.Selector)
	if err != nil {
		return nil, fmt.Errorf("locate challenge image: %w", err)
	}

	for i, p := range sol.Points {
		x, y := box.Point(p.X, p.Y)
		x += r.humanizer.Jitter(r.opts.ClickJitter)
		y += r.humanizer.Jitter(r.opts.ClickJitter)
		if err := page.MouseClick(x, y); err != nil {
			return nil, fmt.Errorf("click point %d: %w", i+1, err)
		}
		if err := r.humanizer.Pause(ctx, r.opts.ClickDelay); err != nil {
			return nil, err
		}
	}

	if sel, ok := browser.FirstVisible(page, r.opts.ConfirmSelectors, time.Second); ok {
		if err := page.Click(sel); err != nil {
			return nil, fmt.Errorf("confirm answer: %w", err)
		}
	}
	r.log.Infof("%s answered the captcha with %d clicks", r.solver.Name(), len(sol.Points))

	after, err := page.ElementScreenshot(det.Selector)
	if err != nil {
		// the challenge is gone
		return nil, nil
	}
	return after, nil
}
