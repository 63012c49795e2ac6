package browser

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned by Poll when the condition never held.
var ErrPollTimeout = errors.New("browser: condition not met before timeout")

// FirstVisible returns the first selector matching a visible element.
// Errors from individual strategies count as no match.
func FirstVisible(page Page, selectors []string, timeout time.Duration) (string, bool) {
	for _, sel := range selectors {
		visible, err := page.IsVisible(sel, timeout)
		if err == nil && visible {
			return sel, true
		}
	}
	return "", false
}

// AnyPresent reports whether any selector matches at least one element.
func AnyPresent(page Page, selectors []string) (string, bool) {
	for _, sel := range selectors {
		n, err := page.Count(sel)
		if err == nil && n > 0 {
			return sel, true
		}
	}
	return "", false
}

// Poll evaluates cond every interval until it returns true, returns an
// error, ctx is done or timeout elapses. The first evaluation is immediate.
func Poll(ctx context.Context, interval, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrPollTimeout
		}
		if err := Sleep(ctx, min(interval, remaining)); err != nil {
			return err
		}
	}
}
