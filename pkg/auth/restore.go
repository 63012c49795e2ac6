package auth

import (
	"context"
	"errors"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/session"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// SessionRestoreStep replays a stored session into the browser and keeps
// it only if the application shows the user as logged in.
type SessionRestoreStep struct {
	env       Env
	store     *session.Store
	targetURL string
}

// NewSessionRestoreStep creates the restore step.
func NewSessionRestoreStep(env Env, store *session.Store, targetURL string) *SessionRestoreStep {
	env = env.withDefaults()
	env.Log = env.Log.With("restore")
	return &SessionRestoreStep{env: env, store: store, targetURL: targetURL}
}

func (s *SessionRestoreStep) Name() string   { return "session-restore" }
func (s *SessionRestoreStep) Type() StepType { return PreSession }

// Execute never returns an error for a failed restore; false sends the
// pipeline down the login path.
func (s *SessionRestoreStep) Execute(ctx context.Context, run *Run) (bool, error) {
	log := s.env.Log
	account := run.Credentials.AccountIdentity()
	if account == "" {
		log.Warnf("no account identity, skipping restore")
		return false, nil
	}

	path := run.Credentials.SessionPath
	if path == "" {
		located, err := s.store.Locate(ctx, account)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				log.Warnf("failed to locate stored session for %s: %v", account, err)
			} else {
				log.Infof("no stored session for %s", account)
			}
			return false, nil
		}
		path = located
	}

	sess, err := s.store.RestorePath(ctx, path)
	if err != nil {
		log.Infof("stored session at %s not usable: %v", path, err)
		return false, nil
	}
	if sess.AccountIdentity != account {
		log.Warnf("stored session %s belongs to %s, not %s", sess.ID, sess.AccountIdentity, account)
		return false, nil
	}

	// the login steps that follow a miss expect the page the run started on
	entry := run.Page.URL()
	if err := s.stage(run.Page, sess); err != nil {
		log.Warnf("failed to replay session %s: %v", sess.ID, err)
		s.abandon(run.Page, sess.Origins, entry)
		return false, nil
	}

	if !s.probe(ctx, run.Page) {
		log.Warnf("session %s restored but no login indicator appeared", sess.ID)
		s.abandon(run.Page, sess.Origins, entry)
		return false, ctx.Err()
	}

	if err := s.store.Touch(ctx, sess); err != nil {
		log.Warnf("failed to record reuse of session %s: %v", sess.ID, err)
	}
	run.BindSession(sess)
	log.Infof("session %s restored", sess.ID)
	return true, nil
}

// stage clears the browser, replays cookies and per-origin local storage
// from a neutral origin, then opens the target.
func (s *SessionRestoreStep) stage(page browser.Page, sess *types.Session) error {
	if err := s.clearErr(page); err != nil {
		return err
	}
	if err := page.Goto("about:blank"); err != nil {
		s.env.Log.Debugf("neutral navigation failed: %v", err)
	}
	if err := page.AddCookies(sess.Cookies); err != nil {
		return err
	}
	for _, origin := range sess.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		if err := page.Goto(origin.Origin); err != nil {
			return err
		}
		if _, err := page.Evaluate(browser.SetLocalStorageScript, origin.LocalStorage); err != nil {
			return err
		}
	}
	return page.Goto(s.targetURL)
}

// probe looks for the login indicator with increasing timeouts.
func (s *SessionRestoreStep) probe(ctx context.Context, page browser.Page) bool {
	for i, timeout := range s.env.Timing.RestoreProbes {
		if ctx.Err() != nil {
			return false
		}
		if s.env.loggedIn(page, timeout) {
			return true
		}
		s.env.Log.Debugf("login indicator probe %d/%d missed (timeout %s)", i+1, len(s.env.Timing.RestoreProbes), timeout)
	}
	return false
}

func (s *SessionRestoreStep) clearErr(page browser.Page) error {
	if err := page.ClearCookies(); err != nil {
		return err
	}
	_, err := page.Evaluate(browser.ClearStorageScript, nil)
	return err
}

// clear removes every trace of the replayed state, visiting each replayed
// origin so its local storage is wiped too.
func (s *SessionRestoreStep) clear(page browser.Page, origins []types.OriginStorage) {
	if err := s.clearErr(page); err != nil {
		s.env.Log.Warnf("failed to clear browser state: %v", err)
	}
	for _, origin := range origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		if err := page.Goto(origin.Origin); err != nil {
			s.env.Log.Debugf("failed to open %s for cleanup: %v", origin.Origin, err)
			continue
		}
		if _, err := page.Evaluate(browser.ClearStorageScript, nil); err != nil {
			s.env.Log.Debugf("failed to clear storage of %s: %v", origin.Origin, err)
		}
	}
}

// abandon clears the replayed state and returns to entry.
func (s *SessionRestoreStep) abandon(page browser.Page, origins []types.OriginStorage, entry string) {
	s.clear(page, origins)
	if entry == "" || entry == "about:blank" {
		return
	}
	if err := page.Goto(entry); err != nil {
		s.env.Log.Warnf("failed to return to %s after restore miss: %v", entry, err)
	}
}
