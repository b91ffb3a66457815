package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUser registers a user.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tidal_user_id, access_token, refresh_token, token_expiry, needs_relogin, last_synced_at, first_listened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID,
		u.TidalUserID,
		u.AccessToken,
		u.RefreshToken,
		u.TokenExpiry.Unix(),
		u.NeedsRelogin,
		u.LastSyncedAt.Unix(),
		nullableUnix(u.FirstListenedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// GetUser returns a registered user, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tidal_user_id, access_token, refresh_token, token_expiry, needs_relogin, last_synced_at, first_listened_at
		FROM users WHERE id = ?
	`, id)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// ListUsers returns every registered user.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tidal_user_id, access_token, refresh_token, token_expiry, needs_relogin, last_synced_at, first_listened_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var tokenExpiry, lastSynced int64
	var firstListened sql.NullInt64

	if err := row.Scan(
		&u.ID,
		&u.TidalUserID,
		&u.AccessToken,
		&u.RefreshToken,
		&tokenExpiry,
		&u.NeedsRelogin,
		&lastSynced,
		&firstListened,
	); err != nil {
		return nil, err
	}

	u.TokenExpiry = time.Unix(tokenExpiry, 0).UTC()
	u.LastSyncedAt = time.Unix(lastSynced, 0).UTC()
	if firstListened.Valid {
		u.FirstListenedAt = time.Unix(firstListened.Int64, 0).UTC()
	}
	return &u, nil
}

// UpdateTokens stores a refreshed credential pair and clears the relogin flag.
func (s *Store) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET access_token = ?, refresh_token = ?, token_expiry = ?, needs_relogin = 0
		WHERE id = ?
	`, accessToken, refreshToken, expiry.Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return requireRow(res, userID)
}

// SetNeedsRelogin marks the user as requiring re-authentication. The sync
// loop skips flagged users until new tokens are stored.
func (s *Store) SetNeedsRelogin(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET needs_relogin = 1 WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to flag user for relogin: %w", err)
	}
	return requireRow(res, userID)
}

func requireRow(res sql.Result, userID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// SetLastSyncedAt advances the user's last-synced marker. The marker never
// moves backwards.
func (s *Store) SetLastSyncedAt(ctx context.Context, userID string, ts time.Time) error {
	return advanceLastSynced(ctx, s.db, userID, ts)
}

// execer is satisfied by both *sql.DB and *sql.Tx, so marker updates run
// standalone or inside a batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func advanceLastSynced(ctx context.Context, ex execer, userID string, ts time.Time) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE users SET last_synced_at = ?
		WHERE id = ? AND last_synced_at < ?
	`, ts.Unix(), userID, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to update last synced marker: %w", err)
	}
	return nil
}

// LowerFirstListenedAt moves the user's first-listened marker earlier if ts
// precedes the stored value. It never moves later.
func (s *Store) LowerFirstListenedAt(ctx context.Context, userID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET first_listened_at = ?
		WHERE id = ? AND (first_listened_at IS NULL OR first_listened_at > ?)
	`, ts.Unix(), userID, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to update first listened marker: %w", err)
	}
	return nil
}

// Blacklist returns the set of artist ids the user has blacklisted.
func (s *Store) Blacklist(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT artist_id FROM user_blacklist WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	blacklist := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		blacklist[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist: %w", err)
	}
	return blacklist, nil
}

// AddToBlacklist blacklists an artist for a user.
func (s *Store) AddToBlacklist(ctx context.Context, userID, artistID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_blacklist (user_id, artist_id) VALUES (?, ?)
		ON CONFLICT(user_id, artist_id) DO NOTHING
	`, userID, artistID)
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", err)
	}
	return nil
}
