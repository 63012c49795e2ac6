package auth

import (
	"context"
	"time"

	"github.com/entrhq/sessionpilot/pkg/session"
	"github.com/entrhq/sessionpilot/pkg/types"
)

const (
	acceptLanguage = "en-US,en;q=0.9"
	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
)

// PersistSessionStep saves the browser state of a verified login.
type PersistSessionStep struct {
	env    Env
	store  *session.Store
	prefix string
	now    func() time.Time
}

// NewPersistSessionStep creates the persist step. prefix is prepended to
// the account identity to form the session id.
func NewPersistSessionStep(env Env, store *session.Store, prefix string) *PersistSessionStep {
	env = env.withDefaults()
	env.Log = env.Log.With("persist")
	return &PersistSessionStep{env: env, store: store, prefix: prefix, now: time.Now}
}

func (s *PersistSessionStep) Name() string   { return "persist-session" }
func (s *PersistSessionStep) Type() StepType { return Login }

// Execute refuses to persist anything unless the login indicator is
// visible.
func (s *PersistSessionStep) Execute(ctx context.Context, run *Run) (bool, error) {
	page := run.Page
	if !s.env.loggedIn(page, s.env.Timing.Probe) {
		return false, fail(ErrCriticalStep, nil, "login indicator not visible, session not saved")
	}

	state, err := page.StorageState()
	if err != nil {
		return false, fail(ErrCriticalStep, err, "read storage state")
	}
	userAgent, err := page.UserAgent()
	if err != nil {
		s.env.Log.Warnf("failed to read user agent: %v", err)
	}

	account := run.Credentials.AccountIdentity()
	headers := map[string]string{
		"Accept-Language": acceptLanguage,
		"Accept":          acceptHTML,
	}
	if userAgent != "" {
		headers["User-Agent"] = userAgent
	}

	sess := types.NewSession(types.SessionID(s.prefix, account), account, state, headers, s.now())
	sess.Proxy = run.Credentials.Proxy
	for _, id := range run.TakePendingConfigs() {
		sess.LinkAPIConfig(id)
	}

	if err := s.store.Persist(ctx, sess); err != nil {
		return false, fail(ErrCriticalStep, err, "persist session")
	}
	run.BindSession(sess)

	// configs captured between Persist and BindSession are still pending
	for _, id := range run.TakePendingConfigs() {
		if err := s.store.LinkAPIConfig(ctx, id, sess.ID); err != nil {
			s.env.Log.Warnf("failed to link api config %d: %v", id, err)
			continue
		}
		sess.LinkAPIConfig(id)
	}

	s.env.screenshot(page, "session-saved")
	s.env.Log.Infof("session %s saved with %d cookies", sess.ID, len(sess.Cookies))
	return true, nil
}
