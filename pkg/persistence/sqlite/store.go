// Package sqlite implements pkg/persistence.Store on top of
// modernc.org/sqlite, the teacher's pure-Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/botshepherd/wsproxy/pkg/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id TEXT NOT NULL,
	target_index  INTEGER NOT NULL,
	direction     TEXT NOT NULL,
	action        TEXT,
	post_type     TEXT,
	raw_frame     TEXT NOT NULL,
	mime_type     TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_connection ON messages(connection_id);

CREATE TABLE IF NOT EXISTS auth_status (
	bot_id           TEXT PRIMARY KEY,
	is_authenticated INTEGER NOT NULL DEFAULT 0,
	authenticated_at TEXT,
	failed_attempts  INTEGER NOT NULL DEFAULT 0,
	last_attempt_at  TEXT,
	is_banned        INTEGER NOT NULL DEFAULT 0,
	banned_until     TEXT
);
`

// Store is a persistence.Store backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: avoid concurrent-writer SQLITE_BUSY churn.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ persistence.Store = (*Store)(nil)

func (s *Store) SaveMessage(ctx context.Context, rec persistence.MessageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (connection_id, target_index, direction, action, post_type, raw_frame, mime_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConnectionID, rec.TargetIndex, string(rec.Direction), rec.Action, rec.PostType, rec.RawFrame, rec.MIMEType,
		rec.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetAuthStatus(ctx context.Context, botID string) (persistence.AuthStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT is_authenticated, authenticated_at, failed_attempts, last_attempt_at, is_banned, banned_until
		 FROM auth_status WHERE bot_id = ?`, botID)

	var (
		isAuth, isBanned      int
		authenticatedAt       sql.NullString
		failedAttempts        int
		lastAttemptAt         sql.NullString
		bannedUntil           sql.NullString
	)
	err := row.Scan(&isAuth, &authenticatedAt, &failedAttempts, &lastAttemptAt, &isBanned, &bannedUntil)
	if err == sql.ErrNoRows {
		return persistence.AuthStatus{BotID: botID}, nil
	}
	if err != nil {
		return persistence.AuthStatus{}, fmt.Errorf("sqlite: reading auth_status for %s: %w", botID, err)
	}

	return persistence.AuthStatus{
		BotID:           botID,
		IsAuthenticated: isAuth != 0,
		AuthenticatedAt: parseNullTime(authenticatedAt),
		FailedAttempts:  failedAttempts,
		LastAttemptAt:   parseNullTime(lastAttemptAt),
		IsBanned:        isBanned != 0,
		BannedUntil:     parseNullTime(bannedUntil),
	}, nil
}

func (s *Store) SetAuthenticated(ctx context.Context, botID string, when time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_status (bot_id, is_authenticated, authenticated_at, failed_attempts, is_banned)
		VALUES (?, 1, ?, 0, 0)
		ON CONFLICT(bot_id) DO UPDATE SET
			is_authenticated = 1,
			authenticated_at = excluded.authenticated_at,
			failed_attempts = 0,
			is_banned = 0,
			banned_until = NULL`,
		botID, when.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) RecordFailedAttempt(ctx context.Context, botID string, when time.Time, banThreshold int, banFor time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status, err := s.getAuthStatusTx(ctx, tx, botID)
	if err != nil {
		return err
	}
	status.FailedAttempts++
	status.LastAttemptAt = &when

	var bannedUntil sql.NullString
	if banThreshold > 0 && status.FailedAttempts >= banThreshold {
		until := when.Add(banFor)
		status.IsBanned = true
		status.BannedUntil = &until
		bannedUntil = sql.NullString{String: until.UTC().Format(time.RFC3339Nano), Valid: true}
	} else if status.IsBanned && status.BannedUntil != nil {
		bannedUntil = sql.NullString{String: status.BannedUntil.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_status (bot_id, is_authenticated, failed_attempts, last_attempt_at, is_banned, banned_until)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			failed_attempts = excluded.failed_attempts,
			last_attempt_at = excluded.last_attempt_at,
			is_banned = excluded.is_banned,
			banned_until = excluded.banned_until`,
		botID, status.FailedAttempts, when.UTC().Format(time.RFC3339Nano), boolToInt(status.IsBanned), bannedUntil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) getAuthStatusTx(ctx context.Context, tx *sql.Tx, botID string) (persistence.AuthStatus, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT failed_attempts, is_banned, banned_until FROM auth_status WHERE bot_id = ?`, botID)
	var (
		failedAttempts int
		isBanned       int
		bannedUntil    sql.NullString
	)
	err := row.Scan(&failedAttempts, &isBanned, &bannedUntil)
	if err == sql.ErrNoRows {
		return persistence.AuthStatus{BotID: botID}, nil
	}
	if err != nil {
		return persistence.AuthStatus{}, err
	}
	return persistence.AuthStatus{
		BotID:          botID,
		FailedAttempts: failedAttempts,
		IsBanned:       isBanned != 0,
		BannedUntil:    parseNullTime(bannedUntil),
	}, nil
}

func (s *Store) SweepExpiredBans(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_status SET is_banned = 0, banned_until = NULL
		 WHERE is_banned = 1 AND banned_until IS NOT NULL AND banned_until < ?`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
