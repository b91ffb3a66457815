package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// encodeStrings stores a string slice as a JSON array column.
func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	return values, nil
}

// InsertPlays appends a batch of playback events in one transaction.
func (s *Store) InsertPlays(ctx context.Context, events []PlaybackEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPlaysTx(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertPlaysTx(ctx context.Context, tx *sql.Tx, events []PlaybackEvent) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plays (user_id, track_id, played_at, duration_ms, album_id, artist_id, artist_ids, blacklisted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		artistIDs, err := encodeStrings(e.ArtistIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.UserID,
			e.TrackID,
			e.PlayedAt.Unix(),
			e.DurationMS,
			e.AlbumID,
			e.ArtistID,
			artistIDs,
			e.Blacklisted,
		); err != nil {
			return fmt.Errorf("failed to insert play: %w", err)
		}
	}
	return nil
}

// HasPlayWithin reports whether the user already has a play of trackID whose
// timestamp lies within window of ts.
func (s *Store) HasPlayWithin(ctx context.Context, userID, trackID string, ts time.Time, window time.Duration) (bool, error) {
	lo := ts.Add(-window).Unix()
	hi := ts.Add(window).Unix()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM plays
		WHERE user_id = ? AND track_id = ? AND played_at BETWEEN ? AND ?
		LIMIT 1
	`, userID, trackID, lo, hi).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query duplicate play: %w", err)
	}
	return true, nil
}

// RecentlyPlayed returns the user's plays ordered newest first.
func (s *Store) RecentlyPlayed(ctx context.Context, userID string, limit, offset int) ([]PlaybackEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, track_id, played_at, duration_ms, album_id, artist_id, artist_ids, blacklisted
		FROM plays
		WHERE user_id = ?
		ORDER BY played_at DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plays: %w", err)
	}
	defer rows.Close()

	return scanPlays(rows)
}

func scanPlays(rows *sql.Rows) ([]PlaybackEvent, error) {
	var events []PlaybackEvent
	for rows.Next() {
		var e PlaybackEvent
		var playedAt int64
		var artistIDs string

		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.TrackID,
			&playedAt,
			&e.DurationMS,
			&e.AlbumID,
			&e.ArtistID,
			&artistIDs,
			&e.Blacklisted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}

		e.PlayedAt = time.Unix(playedAt, 0).UTC()
		ids, err := decodeStrings(artistIDs)
		if err != nil {
			return nil, err
		}
		e.ArtistIDs = ids

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}
	return events, nil
}

// CountPlays returns the number of stored plays for a user.
func (s *Store) CountPlays(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plays WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return count, nil
}
