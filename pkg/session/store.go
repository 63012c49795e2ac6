package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// Store combines the blob files, the relational rows and an optional path
// cache into the single session store used by an authentication run.
//
// Writes are last-writer-wins: concurrent runs for the same account each
// replace the blob and the row in full.
type Store struct {
	files *FileStore
	repo  store.Repository
	cache PathCache
	log   *logging.Logger
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCache enables the account to path cache.
func WithCache(c PathCache) Option {
	return func(s *Store) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store.
func NewStore(files *FileStore, repo store.Repository, opts ...Option) *Store {
	s := &Store{
		files: files,
		repo:  repo,
		log:   logging.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads a session by id. Missing and expired sessions both yield
// ErrNotFound; expired blobs stay on disk.
func (s *Store) Restore(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.files.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.checkExpiry(sess)
}

// RestorePath is Restore for a blob at an explicit path.
func (s *Store) RestorePath(ctx context.Context, path string) (*types.Session, error) {
	sess, err := s.files.ReadPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.checkExpiry(sess)
}

func (s *Store) checkExpiry(sess *types.Session) (*types.Session, error) {
	if sess.Expired(s.now()) {
		s.log.Debugf("session %s expired at %s", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
		return nil, ErrNotFound
	}
	return sess, nil
}

// Persist writes the blob and upserts the relational row. Calling it again
// with the same session rewrites both in place.
func (s *Store) Persist(ctx context.Context, sess *types.Session) error {
	if sess.ID == "" || sess.AccountIdentity == "" {
		return fmt.Errorf("session: id and account identity are required")
	}
	path, err := s.files.Write(ctx, sess)
	if err != nil {
		return err
	}

	rec := store.SessionRecord{
		ID:              sess.ID,
		AccountIdentity: sess.AccountIdentity,
		StoragePath:     path,
		CreatedAt:       sess.CreatedAt,
		ExpiresAt:       sess.ExpiresAt,
		LastUsedAt:      sess.LastUsedAt,
	}
	if err := s.repo.UpsertSession(ctx, rec); err != nil {
		return fmt.Errorf("session: persist row: %w", err)
	}
	for _, id := range sess.APIConfigIDs {
		if err := s.repo.LinkAPIConfig(ctx, id, sess.ID); err != nil {
			return fmt.Errorf("session: link api config %d: %w", id, err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, sess.AccountIdentity, path, sess.ExpiresAt.Sub(s.now())); err != nil {
			s.log.Warnf("failed to cache session path for %s: %v", sess.AccountIdentity, err)
		}
	}
	s.log.Infof("persisted session %s (expires %s)", sess.ID, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Touch records that sess was reused. Only LastUsedAt changes.
func (s *Store) Touch(ctx context.Context, sess *types.Session) error {
	sess.Touch(s.now())
	return s.Persist(ctx, sess)
}

// List returns unexpired sessions, most recently used first.
func (s *Store) List(ctx context.Context) ([]*types.Session, error) {
	all, err := s.files.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*types.Session, 0, len(all))
	for _, sess := range all {
		if !sess.Expired(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

// Delete removes every trace of a session. Deleting a missing session succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	var account string
	if sess, err := s.files.Read(ctx, id); err == nil {
		account = sess.AccountIdentity
	}

	var errs []error
	if err := s.files.Delete(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if s.cache != nil && account != "" {
		if err := s.cache.Delete(ctx, account); err != nil {
			s.log.Warnf("failed to evict cached session path for %s: %v", account, err)
		}
	}
	return errors.Join(errs...)
}

// Locate returns the blob path of the most recently used unexpired session
// of account, consulting the cache before the relational store.
func (s *Store) Locate(ctx context.Context, account string) (string, error) {
	if s.cache != nil {
		path, err := s.cache.Get(ctx, account)
		if err == nil && path != "" {
			return path, nil
		}
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			s.log.Warnf("session cache lookup failed for %s: %v", account, err)
		}
	}

	rec, err := s.repo.FindLatestValidSession(ctx, account, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: locate: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, account, rec.StoragePath, rec.ExpiresAt.Sub(s.now())); err != nil {
			s.log.Warnf("failed to cache session path for %s: %v", account, err)
		}
	}
	return rec.StoragePath, nil
}

// LinkAPIConfig links a captured configuration to a persisted session.
func (s *Store) LinkAPIConfig(ctx context.Context, configID int64, sessionID string) error {
	return s.repo.LinkAPIConfig(ctx, configID, sessionID)
}
