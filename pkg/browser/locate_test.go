package browser_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/browser/browsertest"
)

func TestFirstVisiblePrefersOrder(t *testing.T) {
	page := browsertest.New().
		Show("button.second").
		Show("button.third").
		Set("button.first", browsertest.Element{Visible: false})

	sel, ok := browser.FirstVisible(page, []string{"button.first", "button.second", "button.third"}, time.Second)
	require.True(t, ok)
	assert.Equal(t, "button.second", sel)
}

func TestFirstVisibleNoMatch(t *testing.T) {
	page := browsertest.New()
	_, ok := browser.FirstVisible(page, []string{"a", "b"}, time.Second)
	assert.False(t, ok)
}

func TestFirstVisibleTreatsErrorsAsMiss(t *testing.T) {
	page := browsertest.New().Show("a")
	page.Errors["IsVisible"] = errors.New("detached")
	_, ok := browser.FirstVisible(page, []string{"a"}, time.Second)
	assert.False(t, ok)
}

func TestAnyPresent(t *testing.T) {
	page := browsertest.New().Set("#hidden", browsertest.Element{})
	sel, ok := browser.AnyPresent(page, []string{"#nope", "#hidden"})
	assert.True(t, ok)
	assert.Equal(t, "#hidden", sel)
}

func TestPoll(t *testing.T) {
	calls := 0
	err := browser.Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollTimeout(t *testing.T) {
	err := browser.Poll(context.Background(), time.Millisecond, 10*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, browser.ErrPollTimeout)
}

func TestPollPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := browser.Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := browser.Poll(ctx, time.Hour, time.Hour, func() (bool, error) { return false, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScreenshotterCapture(t *testing.T) {
	dir := t.TempDir()
	s := browser.NewScreenshotter(dir)

	path, err := s.Capture(browsertest.New(), "step failed: login/submit")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "step_failed_login_submit-")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestScreenshotterDisabled(t *testing.T) {
	var s *browser.Screenshotter
	path, err := s.Capture(browsertest.New(), "x")
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestBoxPoint(t *testing.T) {
	box := browser.Box{X: 10, Y: 20, Width: 100, Height: 50}
	x, y := box.Point(0.5, 0.2)
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 30.0, y)
}
