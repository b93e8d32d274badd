package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

// busyTimeoutMillis lets the CLI and the daemon write concurrently.
const busyTimeoutMillis = 5000

// EncryptedStore implements domain.Store using a SQLCipher encrypted
// SQLite database. Timestamps are stored as unix milliseconds.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted database at dbPath.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dbPath string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	keyHex := hex.EncodeToString(key)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=%d",
		dbPath, keyHex, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first use.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		end_time INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL,
		is_indefinite INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions (is_active);

	CREATE TABLE IF NOT EXISTS whitelist (
		package_name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		blocking_mode TEXT NOT NULL,
		screen_off_enabled INTEGER NOT NULL,
		auto_whitelist_dialer INTEGER NOT NULL,
		monitoring_interval_ms INTEGER NOT NULL,
		vibrate_on_block INTEGER NOT NULL,
		show_overlay INTEGER NOT NULL,
		screen_off_redirect_delay_ms INTEGER NOT NULL,
		last_modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS block_events (
		id TEXT PRIMARY KEY,
		package_name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		session_id INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		action_taken TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_block_events_timestamp ON block_events (timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- domain.SessionStore implementation ---

// SaveSession inserts a session and returns its assigned ID.
func (s *EncryptedStore) SaveSession(ctx context.Context, sess domain.Session) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (start_time, duration_minutes, end_time, is_active, is_indefinite, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(sess.StartTime), sess.DurationMinutes, toMillis(sess.EndTime),
		sess.Active, sess.Indefinite, toMillis(sess.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeactivateSession marks one session inactive.
func (s *EncryptedStore) DeactivateSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, id)
	return err
}

// DeactivateAllSessions marks every session inactive.
func (s *EncryptedStore) DeactivateAllSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE is_active = 1`)
	return err
}

const sessionColumns = `id, start_time, duration_minutes, end_time, is_active, is_indefinite, created_at`

// LoadActiveSession returns the newest active session, or nil.
func (s *EncryptedStore) LoadActiveSession(ctx context.Context) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1 ORDER BY id DESC LIMIT 1`)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SessionHistory returns the most recent sessions, newest first.
func (s *EncryptedStore) SessionHistory(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var sess domain.Session
	var start, end, created int64
	err := row.Scan(&sess.ID, &start, &sess.DurationMinutes, &end,
		&sess.Active, &sess.Indefinite, &created)
	if err != nil {
		return domain.Session{}, err
	}
	sess.StartTime = fromMillis(start)
	sess.EndTime = fromMillis(end)
	sess.CreatedAt = fromMillis(created)
	return sess, nil
}

// --- domain.WhitelistStore implementation ---

// LoadWhitelistSnapshot returns every entry, enabled or not.
func (s *EncryptedStore) LoadWhitelistSnapshot(ctx context.Context) ([]domain.WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT package_name, display_name, enabled, added_at FROM whitelist ORDER BY package_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WhitelistEntry
	for rows.Next() {
		var e domain.WhitelistEntry
		var added int64
		if err := rows.Scan(&e.PackageName, &e.DisplayName, &e.Enabled, &added); err != nil {
			return nil, err
		}
		e.AddedAt = fromMillis(added)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertWhitelistEntry adds or replaces an entry keyed by package name.
func (s *EncryptedStore) UpsertWhitelistEntry(ctx context.Context, e domain.WhitelistEntry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO whitelist (package_name, display_name, enabled, added_at)
		VALUES (?, ?, ?, ?)`,
		e.PackageName, e.DisplayName, e.Enabled, toMillis(e.AddedAt),
	)
	return err
}

// RemoveWhitelistEntry deletes an entry.
func (s *EncryptedStore) RemoveWhitelistEntry(ctx context.Context, packageName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM whitelist WHERE package_name = ?`, packageName)
	if err != nil {
		return err
	}
	return requireRow(res, packageName)
}

// SetWhitelistEnabled toggles an entry.
func (s *EncryptedStore) SetWhitelistEnabled(ctx context.Context, packageName string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE whitelist SET enabled = ? WHERE package_name = ?`, enabled, packageName)
	if err != nil {
		return err
	}
	return requireRow(res, packageName)
}

func requireRow(res sql.Result, packageName string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: whitelist entry %q", domain.ErrNotFound, packageName)
	}
	return nil
}

// --- domain.SettingsStore implementation ---

// LoadSettings returns the settings row, or nil if none was saved yet.
func (s *EncryptedStore) LoadSettings(ctx context.Context) (*domain.KioskSettings, error) {
	var k domain.KioskSettings
	var mode string
	var intervalMs, delayMs, modified int64
	err := s.db.QueryRowContext(ctx, `
		SELECT blocking_mode, screen_off_enabled, auto_whitelist_dialer, monitoring_interval_ms,
			vibrate_on_block, show_overlay, screen_off_redirect_delay_ms, last_modified
		FROM settings WHERE id = 1`).Scan(
		&mode, &k.ScreenOffEnabled, &k.AutoWhitelistDialer, &intervalMs,
		&k.VibrateOnBlock, &k.ShowOverlay, &delayMs, &modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.BlockingMode = domain.BlockingMode(mode)
	k.MonitoringInterval = time.Duration(intervalMs) * time.Millisecond
	k.ScreenOffRedirectDelay = time.Duration(delayMs) * time.Millisecond
	k.LastModified = fromMillis(modified)
	return &k, nil
}

// SaveSettings replaces the settings row.
func (s *EncryptedStore) SaveSettings(ctx context.Context, k domain.KioskSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO settings (id, blocking_mode, screen_off_enabled, auto_whitelist_dialer,
			monitoring_interval_ms, vibrate_on_block, show_overlay, screen_off_redirect_delay_ms, last_modified)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(k.BlockingMode), k.ScreenOffEnabled, k.AutoWhitelistDialer,
		k.MonitoringInterval.Milliseconds(), k.VibrateOnBlock, k.ShowOverlay,
		k.ScreenOffRedirectDelay.Milliseconds(), toMillis(k.LastModified),
	)
	return err
}

// --- domain.BlockEventStore implementation ---

// AppendBlockEvent inserts an audit record.
func (s *EncryptedStore) AppendBlockEvent(ctx context.Context, e domain.BlockEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_events (id, package_name, display_name, session_id, timestamp, action_taken)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.PackageName, e.DisplayName, e.SessionID, toMillis(e.Timestamp), string(e.ActionTaken),
	)
	return err
}

// RecentBlockEvents returns the newest events first.
func (s *EncryptedStore) RecentBlockEvents(ctx context.Context, limit int) ([]domain.BlockEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_name, display_name, session_id, timestamp, action_taken
		FROM block_events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BlockEvent
	for rows.Next() {
		var e domain.BlockEvent
		var ts int64
		var action string
		if err := rows.Scan(&e.ID, &e.PackageName, &e.DisplayName, &e.SessionID, &ts, &action); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		e.ActionTaken = domain.BlockingMode(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// BlockCount returns how many times a package was blocked.
func (s *EncryptedStore) BlockCount(ctx context.Context, packageName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM block_events WHERE package_name = ?`, packageName).Scan(&n)
	return n, err
}

// PruneBlockEventsBefore deletes events older than ts.
func (s *EncryptedStore) PruneBlockEventsBefore(ctx context.Context, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM block_events WHERE timestamp < ?`, toMillis(ts))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Ensure EncryptedStore implements domain.Store.
var _ domain.Store = (*EncryptedStore)(nil)
