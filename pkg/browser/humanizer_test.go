package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/browser/browsertest"
)

func TestHumanizerBetweenStaysInRange(t *testing.T) {
	h := browser.NewHumanizer(browser.DefaultKeyDelay, browser.DefaultFieldPause, 42)
	r := browser.Range{Min: 50 * time.Millisecond, Max: 250 * time.Millisecond}
	for i := 0; i < 1000; i++ {
		d := h.Between(r)
		assert.GreaterOrEqual(t, d, r.Min)
		assert.LessOrEqual(t, d, r.Max)
	}
}

func TestHumanizerDegenerateRange(t *testing.T) {
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 1)
	assert.Equal(t, 5*time.Millisecond, h.Between(browser.Range{Min: 5 * time.Millisecond, Max: time.Millisecond}))
}

func TestHumanizerJitterBounded(t *testing.T) {
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 7)
	for i := 0; i < 500; i++ {
		j := h.Jitter(3)
		assert.GreaterOrEqual(t, j, -3.0)
		assert.LessOrEqual(t, j, 3.0)
	}
}

func TestHumanizerUniformAndChance(t *testing.T) {
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 11)
	for i := 0; i < 500; i++ {
		v := h.Uniform(100, 300)
		assert.GreaterOrEqual(t, v, 100.0)
		assert.Less(t, v, 300.0)
	}
	assert.Equal(t, 5.0, h.Uniform(5, 5))
	assert.False(t, h.Chance(0))
	assert.True(t, h.Chance(1))
}

func TestTypeTextSendsEveryCharacter(t *testing.T) {
	page := browsertest.New().Show("#email")
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 3)

	require.NoError(t, h.TypeText(context.Background(), page, "#email", "me@example.com"))
	assert.Equal(t, "me@example.com", page.Typed)
	assert.Equal(t, []string{"#email"}, page.Clicks)
}

func TestTypeTextMissingField(t *testing.T) {
	page := browsertest.New()
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 3)

	err := h.TypeText(context.Background(), page, "#email", "x")
	assert.ErrorIs(t, err, browsertest.ErrNoElement)
}

func TestPauseHonorsCancellation(t *testing.T) {
	h := browser.NewHumanizer(browser.Range{}, browser.Range{}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Pause(ctx, browser.Range{Min: time.Hour, Max: time.Hour})
	assert.True(t, errors.Is(err, context.Canceled))
}
