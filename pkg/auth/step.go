// Package auth drives a browser through the steps that produce an
// authenticated session: restoring a stored session when possible, and
// otherwise logging in and resolving any challenge along the way.
package auth

import (
	"context"
	"sync"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/capture"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// StepType decides whether a step runs after a session was restored.
type StepType int

const (
	// PreSession steps try to restore a session. Success skips Login steps.
	PreSession StepType = iota
	// PostSession steps always run.
	PostSession
	// Login steps run only when no session was restored.
	Login
)

func (t StepType) String() string {
	switch t {
	case PreSession:
		return "PRE_SESSION"
	case PostSession:
		return "POST_SESSION"
	case Login:
		return "LOGIN"
	default:
		return "UNKNOWN"
	}
}

// Step is one unit of the pipeline. Execute returns false, or an error, when
// the step did not achieve its goal.
type Step interface {
	Name() string
	Type() StepType
	Execute(ctx context.Context, run *Run) (bool, error)
}

// Run is the state shared by the steps of one pipeline execution. Capture
// callbacks read it from other goroutines, so the session fields are
// guarded.
type Run struct {
	Page        browser.Page
	Credentials types.Credentials

	mu       sync.Mutex
	session  *types.Session
	restored bool
	pending  []int64

	capturedOnce sync.Once
	captured     chan struct{}
}

var _ capture.Binding = (*Run)(nil)

// NewRun creates the state of a run on page.
func NewRun(page browser.Page, creds types.Credentials) *Run {
	return &Run{Page: page, Credentials: creds, captured: make(chan struct{})}
}

// Session returns the bound session, or nil.
func (r *Run) Session() *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// BindSession makes sess the session of the run.
func (r *Run) BindSession(sess *types.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = sess
}

// Restored reports whether a PreSession step succeeded.
func (r *Run) Restored() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restored
}

func (r *Run) setRestored() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = true
}

// SessionID implements capture.Binding.
func (r *Run) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return ""
	}
	return r.session.ID
}

// AddPendingConfig implements capture.Binding.
func (r *Run) AddPendingConfig(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pending {
		if existing == id {
			return
		}
	}
	r.pending = append(r.pending, id)
}

// TakePendingConfigs returns and forgets the configs captured before a
// session was bound.
func (r *Run) TakePendingConfigs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// MarkCaptured signals that the canonical API request was seen. Only the
// first call has an effect.
func (r *Run) MarkCaptured() {
	r.capturedOnce.Do(func() { close(r.captured) })
}

// Captured is closed once the canonical API request was seen.
func (r *Run) Captured() <-chan struct{} {
	return r.captured
}
