package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/session"
	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// DefaultRefreshInterval is how often the refresh loop checks freshness.
const DefaultRefreshInterval = 45 * time.Minute

// ErrNoAccount is returned when a refresh has no credentials to run with.
var ErrNoAccount = errors.New("auth: no account to refresh")

// Runner runs one authentication. *Authenticator implements it.
type Runner interface {
	Run(ctx context.Context, creds types.Credentials) (*Result, error)
}

// Freshness reports whether a captured API configuration is still current.
type Freshness interface {
	FreshAPIConfig(ctx context.Context, now time.Time) (*types.CapturedAPIConfig, error)
}

// CredentialSource resolves the credentials of an account identity.
type CredentialSource func(account string) (types.Credentials, bool)

// RefreshOutcome describes one refresh check.
type RefreshOutcome struct {
	// Fresh is the configuration that made the run unnecessary
	Fresh   *types.CapturedAPIConfig
	Account string
	Result  *Result
}

// Refreshed reports whether an authentication ran.
func (o *RefreshOutcome) Refreshed() bool { return o.Fresh == nil }

// Refresher re-runs the authenticator whenever no captured API
// configuration is fresh, preferring the most recently used session.
type Refresher struct {
	configs  Freshness
	sessions *session.Store
	runner   Runner
	lookup   CredentialSource
	fallback types.Credentials
	now      func() time.Time
	log      *logging.Logger
}

// NewRefresher creates a refresher. fallback is used when no stored session
// belongs to a known account.
func NewRefresher(configs Freshness, sessions *session.Store, runner Runner, lookup CredentialSource, fallback types.Credentials, log *logging.Logger) (*Refresher, error) {
	if configs == nil || sessions == nil || runner == nil {
		return nil, errors.New("auth: refresher needs configs, sessions and a runner")
	}
	if lookup == nil {
		lookup = func(string) (types.Credentials, bool) { return types.Credentials{}, false }
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Refresher{
		configs:  configs,
		sessions: sessions,
		runner:   runner,
		lookup:   lookup,
		fallback: fallback,
		now:      time.Now,
		log:      log,
	}, nil
}

// Check runs the authenticator unless a fresh API configuration exists.
func (r *Refresher) Check(ctx context.Context) (*RefreshOutcome, error) {
	fresh, err := r.configs.FreshAPIConfig(ctx, r.now())
	if err == nil {
		r.log.Infof("api config %d captured %s ago, no refresh needed", fresh.ID, r.now().Sub(fresh.UpdatedAt).Truncate(time.Second))
		return &RefreshOutcome{Fresh: fresh}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("auth: check api config freshness: %w", err)
	}

	creds, err := r.target(ctx)
	if err != nil {
		return nil, err
	}
	account := creds.AccountIdentity()
	r.log.Infof("no fresh api config, refreshing session of %s", account)

	res, err := r.runner.Run(ctx, creds)
	out := &RefreshOutcome{Account: account, Result: res}
	if err != nil {
		return out, fmt.Errorf("auth: refresh %s: %w", account, err)
	}
	return out, nil
}

// target picks the most recently used session with known credentials, else
// the fallback account.
func (r *Refresher) target(ctx context.Context) (types.Credentials, error) {
	list, err := r.sessions.List(ctx)
	if err != nil {
		r.log.Warnf("failed to list sessions: %v", err)
	}
	for _, sess := range list {
		creds, ok := r.lookup(sess.AccountIdentity)
		if !ok {
			r.log.Debugf("no credentials for session %s of %s", sess.ID, sess.AccountIdentity)
			continue
		}
		creds.SessionPath = sess.StoragePath
		return creds, nil
	}
	if r.fallback.Email == "" || r.fallback.Password == "" {
		return types.Credentials{}, ErrNoAccount
	}
	r.log.Infof("no reusable session, creating one for %s", r.fallback.AccountIdentity())
	return r.fallback, nil
}

// Loop checks immediately and then every interval until ctx is done.
// Failed checks are logged and retried at the next tick.
func (r *Refresher) Loop(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultRefreshInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := r.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Errorf("scheduled refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
