package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entrhq/sessionpilot/pkg/types"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// configMu serializes the select-then-insert of captured configurations
	configMu sync.Mutex
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (creating when needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL UNIQUE,
		storage_path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS api_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		api_version TEXT NOT NULL,
		signature TEXT NOT NULL,
		parameters_json TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		update_frequency_seconds INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_api_configs_active_signature
		ON api_configs(signature) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS api_config_sessions (
		config_id INTEGER NOT NULL REFERENCES api_configs(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		PRIMARY KEY (config_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS verification_codes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		message_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		account TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		used_at INTEGER,
		status TEXT NOT NULL,
		UNIQUE (message_id, code)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.migrateUpdatedAt()
}

// migrateUpdatedAt adds api_configs.updated_at to databases created before
// the column existed, seeding it from created_at.
func (s *SQLiteStore) migrateUpdatedAt() error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('api_configs') WHERE name = 'updated_at'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect api_configs: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE api_configs ADD COLUMN updated_at INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add updated_at: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE api_configs SET updated_at = created_at`); err != nil {
		return fmt.Errorf("seed updated_at: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSession creates or updates the row of rec's account.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec SessionRecord) error {
	query := `
	INSERT INTO sessions (id, account, storage_path, created_at, expires_at, last_used_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(account) DO UPDATE SET
		id = excluded.id,
		storage_path = excluded.storage_path,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at,
		last_used_at = excluded.last_used_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.AccountIdentity, rec.StoragePath,
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt), toMillis(rec.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, account, storage_path, created_at, expires_at, last_used_at`

func scanSession(row interface{ Scan(...any) error }) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAt, expiresAt, lastUsedAt int64
	if err := row.Scan(&rec.ID, &rec.AccountIdentity, &rec.StoragePath, &createdAt, &expiresAt, &lastUsedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.LastUsedAt = fromMillis(lastUsedAt)
	return &rec, nil
}

// GetSession returns a session row by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	if rec.APIConfigIDs, err = s.linkedConfigs(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindLatestValidSession returns the most recently used unexpired session of account.
func (s *SQLiteStore) FindLatestValidSession(ctx context.Context, account string, now time.Time) (*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE account = ? AND expires_at > ?
		ORDER BY last_used_at DESC LIMIT 1`
	rec, err := scanSession(s.db.QueryRowContext(ctx, query, account, toMillis(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListValidSessions returns sessions unexpired at now, most recently used first.
func (s *SQLiteStore) ListValidSessions(ctx context.Context, now time.Time) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE expires_at > ? ORDER BY last_used_at DESC`,
		toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// TouchSession updates last_used_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session row and its configuration links.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_config_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) linkedConfigs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT config_id FROM api_config_sessions WHERE session_id = ? ORDER BY config_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session links: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertAPIConfig stores cfg unless an active config with the same signature exists.
func (s *SQLiteStore) UpsertAPIConfig(ctx context.Context, cfg *types.CapturedAPIConfig) (int64, bool, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	signature := cfg.Signature()

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM api_configs WHERE signature = ? AND is_active = 1`, signature).Scan(&existing)
	if err == nil {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE api_configs SET updated_at = ? WHERE id = ?`, toMillis(time.Now().UTC()), existing); err != nil {
			return 0, false, fmt.Errorf("refresh api config: %w", err)
		}
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("query api config: %w", err)
	}

	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return 0, false, fmt.Errorf("marshal parameters: %w", err)
	}
	frequency := cfg.UpdateFrequency
	if frequency <= 0 {
		frequency = types.DefaultUpdateFrequency
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO api_configs (api_version, signature, parameters_json, is_active, update_frequency_seconds, created_at, updated_at)
	VALUES (?, ?, ?, 1, ?, ?, ?)`,
		cfg.APIVersion, signature, string(params), int64(frequency/time.Second), toMillis(createdAt), toMillis(createdAt))
	if err != nil {
		return 0, false, fmt.Errorf("insert api config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("read api config id: %w", err)
	}
	return id, true, nil
}

// GetAPIConfig returns a configuration with its linked sessions.
func (s *SQLiteStore) GetAPIConfig(ctx context.Context, id int64) (*types.CapturedAPIConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiConfigColumns+`
		FROM api_configs WHERE id = ?`, id)
	cfg, err := scanAPIConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM api_config_sessions WHERE config_id = ? ORDER BY session_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query config links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan config link: %w", err)
		}
		cfg.LinkedSessionIDs = append(cfg.LinkedSessionIDs, sid)
	}
	return cfg, rows.Err()
}

// ListAPIConfigs returns active configurations, newest first.
func (s *SQLiteStore) ListAPIConfigs(ctx context.Context) ([]types.CapturedAPIConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiConfigColumns+`
		FROM api_configs WHERE is_active = 1 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query api configs: %w", err)
	}
	defer rows.Close()

	var out []types.CapturedAPIConfig
	for rows.Next() {
		cfg, err := scanAPIConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// FreshAPIConfig returns the most recently refreshed active configuration
// whose last capture is still within its update frequency at now.
func (s *SQLiteStore) FreshAPIConfig(ctx context.Context, now time.Time) (*types.CapturedAPIConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiConfigColumns+`
		FROM api_configs
		WHERE is_active = 1 AND updated_at + update_frequency_seconds * 1000 > ?
		ORDER BY updated_at DESC, id DESC LIMIT 1`, toMillis(now))
	cfg, err := scanAPIConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

const apiConfigColumns = `id, api_version, parameters_json, is_active, update_frequency_seconds, created_at, updated_at`

func scanAPIConfig(row interface{ Scan(...any) error }) (*types.CapturedAPIConfig, error) {
	var cfg types.CapturedAPIConfig
	var params string
	var active int
	var frequency, createdAt, updatedAt int64
	if err := row.Scan(&cfg.ID, &cfg.APIVersion, &params, &active, &frequency, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan api config row: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &cfg.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	cfg.IsActive = active == 1
	cfg.UpdateFrequency = time.Duration(frequency) * time.Second
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.UpdatedAt = fromMillis(updatedAt)
	return &cfg, nil
}

// LinkAPIConfig associates a configuration with a session.
func (s *SQLiteStore) LinkAPIConfig(ctx context.Context, configID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO api_config_sessions (config_id, session_id) VALUES (?, ?)`, configID, sessionID)
	if err != nil {
		return fmt.Errorf("link api config: %w", err)
	}
	return nil
}

// SaveVerificationCode stores code as UNUSED unless already stored.
func (s *SQLiteStore) SaveVerificationCode(ctx context.Context, code types.VerificationCode) (*types.VerificationCode, error) {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO verification_codes (code, message_id, sender, account, received_at, used_at, status)
	VALUES (?, ?, ?, ?, ?, NULL, ?)
	ON CONFLICT(message_id, code) DO NOTHING`,
		code.Code, code.MessageID, code.SenderAddress, code.Account, toMillis(code.ReceivedAt), string(types.CodeUnused))
	if err != nil {
		return nil, fmt.Errorf("insert verification code: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, message_id, sender, account, received_at, used_at, status
		FROM verification_codes WHERE message_id = ? AND code = ?`, code.MessageID, code.Code)

	var out types.VerificationCode
	var receivedAt int64
	var usedAt sql.NullInt64
	var status string
	if err := row.Scan(&out.ID, &out.Code, &out.MessageID, &out.SenderAddress, &out.Account, &receivedAt, &usedAt, &status); err != nil {
		return nil, fmt.Errorf("scan verification code: %w", err)
	}
	out.ReceivedAt = fromMillis(receivedAt)
	out.Status = types.CodeStatus(status)
	if usedAt.Valid {
		t := fromMillis(usedAt.Int64)
		out.UsedAt = &t
	}
	return &out, nil
}

// MarkCodeUsed transitions a code from UNUSED to USED exactly once.
func (s *SQLiteStore) MarkCodeUsed(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE verification_codes SET status = ?, used_at = ? WHERE id = ? AND status = ?`,
		string(types.CodeUsed), toMillis(at), id, string(types.CodeUnused))
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM verification_codes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query verification code: %w", err)
	}
	return ErrCodeAlreadyUsed
}
