// Package store persists session rows, captured API configurations and
// verification codes in a relational database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/sessionpilot/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrCodeAlreadyUsed is returned when marking a code that is not UNUSED.
	ErrCodeAlreadyUsed = errors.New("store: verification code already used")
)

// SessionRecord is the relational row of a persisted session. The full
// cookie and storage payload lives in the blob at StoragePath.
type SessionRecord struct {
	ID              string
	AccountIdentity string
	StoragePath     string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastUsedAt      time.Time
	APIConfigIDs    []int64
}

// Repository defines the persistence operations used by an authentication run.
type Repository interface {
	// UpsertSession inserts the session row, or updates the row of the same
	// account identity in place.
	UpsertSession(ctx context.Context, rec SessionRecord) error

	// GetSession returns a session row by id.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// FindLatestValidSession returns the most recently used unexpired session
	// of an account.
	FindLatestValidSession(ctx context.Context, account string, now time.Time) (*SessionRecord, error)

	// ListValidSessions returns every session row unexpired at now.
	ListValidSessions(ctx context.Context, now time.Time) ([]SessionRecord, error)

	// TouchSession updates last_used_at only.
	TouchSession(ctx context.Context, id string, at time.Time) error

	// DeleteSession removes a session row and its links. Missing rows are not an error.
	DeleteSession(ctx context.Context, id string) error

	// UpsertAPIConfig stores a captured configuration unless an active one
	// with the same signature exists, in which case that row's updated_at is
	// refreshed. It returns the id of the stored or existing row and whether
	// a new row was created.
	UpsertAPIConfig(ctx context.Context, cfg *types.CapturedAPIConfig) (int64, bool, error)

	// GetAPIConfig returns a configuration with its linked sessions.
	GetAPIConfig(ctx context.Context, id int64) (*types.CapturedAPIConfig, error)

	// ListAPIConfigs returns active configurations, newest first.
	ListAPIConfigs(ctx context.Context) ([]types.CapturedAPIConfig, error)

	// FreshAPIConfig returns an active configuration captured within its
	// update frequency of now, or ErrNotFound.
	FreshAPIConfig(ctx context.Context, now time.Time) (*types.CapturedAPIConfig, error)

	// LinkAPIConfig associates a configuration with a session. Idempotent.
	LinkAPIConfig(ctx context.Context, configID int64, sessionID string) error

	// SaveVerificationCode stores a code as UNUSED unless the same message id
	// and code were stored before, and returns the stored row.
	SaveVerificationCode(ctx context.Context, code types.VerificationCode) (*types.VerificationCode, error)

	// MarkCodeUsed transitions a code from UNUSED to USED.
	MarkCodeUsed(ctx context.Context, id int64, at time.Time) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
