package browser

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Defaults for human-like input.
var (
	DefaultKeyDelay   = Range{Min: 50 * time.Millisecond, Max: 250 * time.Millisecond}
	DefaultFieldPause = Range{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond}
)

// Humanizer produces randomized delays and jitter for input events.
type Humanizer struct {
	mu         sync.Mutex
	rng        *rand.Rand
	keyDelay   Range
	fieldPause Range
}

// NewHumanizer creates a humanizer. A zero seed picks a random one.
func NewHumanizer(keyDelay, fieldPause Range, seed uint64) *Humanizer {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Humanizer{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		keyDelay:   keyDelay,
		fieldPause: fieldPause,
	}
}

// Between returns a random duration within r.
func (h *Humanizer) Between(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return r.Min + time.Duration(h.rng.Int64N(int64(r.Max-r.Min)+1))
}

// Jitter returns a random offset in [-amount, amount].
func (h *Humanizer) Jitter(amount float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return (h.rng.Float64()*2 - 1) * amount
}

// Uniform returns a random value in [lo, hi).
func (h *Humanizer) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rng.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func (h *Humanizer) Chance(p float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64() < p
}

// Pause sleeps for a random duration in r or until ctx is done.
func (h *Humanizer) Pause(ctx context.Context, r Range) error {
	return Sleep(ctx, h.Between(r))
}

// FieldPause waits between two form fields.
func (h *Humanizer) FieldPause(ctx context.Context) error {
	return h.Pause(ctx, h.fieldPause)
}

// TypeText focuses selector and types text one character at a time.
func (h *Humanizer) TypeText(ctx context.Context, page Page, selector, text string) error {
	if err := page.Click(selector); err != nil {
		return err
	}
	if err := page.Fill(selector, ""); err != nil {
		return err
	}
	for _, r := range text {
		if err := page.Type(string(r)); err != nil {
			return err
		}
		if err := h.Pause(ctx, h.keyDelay); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
