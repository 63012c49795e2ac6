package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
)

const scrollMetricsScript = `() => ({
	scrollHeight: document.body.scrollHeight,
	scrollTop: window.pageYOffset || document.documentElement.scrollTop,
	windowHeight: window.innerHeight,
})`

const scrollToScript = `(top) => window.scrollTo({ top, behavior: 'smooth' })`

// ScrollOptions shapes the scrolling.
type ScrollOptions struct {
	MaxScrolls   int
	MinStep      float64
	MaxStep      float64
	BottomMargin float64
	Delay        browser.Range

	// ReadingChance is the probability of an extra ReadingPause after a scroll
	ReadingChance float64
	ReadingPause  browser.Range
}

// DefaultScrollOptions returns a short, unhurried read of the page.
func DefaultScrollOptions() ScrollOptions {
	return ScrollOptions{
		MaxScrolls:    10,
		MinStep:       100,
		MaxStep:       300,
		BottomMargin:  500,
		Delay:         browser.Range{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		ReadingChance: 0.3,
		ReadingPause:  browser.Range{Min: time.Second, Max: 3 * time.Second},
	}
}

// NaturalScrollStep scrolls the target page like a reader would, which
// makes the application load data through its API. It stops as soon as the
// canonical request has been captured.
type NaturalScrollStep struct {
	env  Env
	opts ScrollOptions
}

// NewNaturalScrollStep creates the scroll step.
func NewNaturalScrollStep(env Env, opts ScrollOptions) *NaturalScrollStep {
	env = env.withDefaults()
	env.Log = env.Log.With("scroll")
	if opts.MaxScrolls <= 0 {
		opts = DefaultScrollOptions()
	}
	return &NaturalScrollStep{env: env, opts: opts}
}

func (s *NaturalScrollStep) Name() string   { return "natural-scroll" }
func (s *NaturalScrollStep) Type() StepType { return PostSession }

func (s *NaturalScrollStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	select {
	case <-run.Captured():
		s.env.Log.Debugf("request already captured, not scrolling")
		return true, nil
	default:
	}

	height, top, window, err := s.metrics(page)
	if err != nil {
		return false, fail(ErrUIMismatch, err, "read scroll metrics")
	}
	maxTop := height - window - s.opts.BottomMargin

	scrolls := 0
	for ; scrolls < s.opts.MaxScrolls && top < maxTop; scrolls++ {
		top = min(top+s.env.Humanizer.Uniform(s.opts.MinStep, s.opts.MaxStep), maxTop)
		if _, err := page.Evaluate(scrollToScript, top); err != nil {
			return false, fail(ErrUIMismatch, err, "scroll")
		}

		if stop, err := s.wait(ctx, run, s.opts.Delay); stop || err != nil {
			scrolls++
			return s.done(scrolls, err)
		}
		if s.env.Humanizer.Chance(s.opts.ReadingChance) {
			if stop, err := s.wait(ctx, run, s.opts.ReadingPause); stop || err != nil {
				scrolls++
				return s.done(scrolls, err)
			}
		}

		// the page may grow as content loads
		if h, _, w, err := s.metrics(page); err == nil && h-w-s.opts.BottomMargin > maxTop {
			maxTop = h - w - s.opts.BottomMargin
		}
	}
	s.env.Log.Infof("scrolled %d times without capturing a request", scrolls)
	return true, nil
}

func (s *NaturalScrollStep) done(scrolls int, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	s.env.Log.Infof("request captured after %d scrolls", scrolls)
	return true, nil
}

// wait sleeps for a random duration in r. It returns true early once the
// request has been captured.
func (s *NaturalScrollStep) wait(ctx context.Context, run *Run, r browser.Range) (bool, error) {
	timer := time.NewTimer(s.env.Humanizer.Between(r))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-run.Captured():
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (s *NaturalScrollStep) metrics(page browser.Page) (height, top, window float64, err error) {
	raw, err := page.Evaluate(scrollMetricsScript, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected metrics %T", raw)
	}
	return number(m["scrollHeight"]), number(m["scrollTop"]), number(m["windowHeight"]), nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
