package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// UpsertTracks writes new track records, ignoring ids already present.
// Duplicate ids within the same batch collapse to one write.
func (s *Store) UpsertTracks(ctx context.Context, tracks []TrackRecord) error {
	if len(tracks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTracksTx(ctx, tx, tracks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertTracksTx(ctx context.Context, tx *sql.Tx, tracks []TrackRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (id, name, duration_ms, album_id, artist_id, artist_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		artistIDs, err := encodeStrings(t.ArtistIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Name, t.DurationMS, t.AlbumID, t.ArtistID, artistIDs); err != nil {
			return fmt.Errorf("failed to upsert track: %w", err)
		}
	}
	return nil
}

func upsertAlbumsTx(ctx context.Context, tx *sql.Tx, albums []AlbumRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO albums (id, name, artist_id)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(albums))
	for _, a := range albums {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		if _, err := stmt.ExecContext(ctx, a.ID, a.Name, a.ArtistID); err != nil {
			return fmt.Errorf("failed to upsert album: %w", err)
		}
	}
	return nil
}

func upsertArtistsTx(ctx context.Context, tx *sql.Tx, artists []ArtistRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO artists (id, name)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(artists))
	for _, a := range artists {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		if _, err := stmt.ExecContext(ctx, a.ID, a.Name); err != nil {
			return fmt.Errorf("failed to upsert artist: %w", err)
		}
	}
	return nil
}

// UpsertMetadata writes tracks, albums and artists in one transaction.
func (s *Store) UpsertMetadata(ctx context.Context, tracks []TrackRecord, albums []AlbumRecord, artists []ArtistRecord) error {
	if len(tracks) == 0 && len(albums) == 0 && len(artists) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTracksTx(ctx, tx, tracks); err != nil {
		return err
	}
	if err := upsertAlbumsTx(ctx, tx, albums); err != nil {
		return err
	}
	if err := upsertArtistsTx(ctx, tx, artists); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTrack returns a cached track record, or ErrNotFound.
func (s *Store) GetTrack(ctx context.Context, id string) (*TrackRecord, error) {
	var t TrackRecord
	var artistIDs string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, duration_ms, album_id, artist_id, artist_ids
		FROM tracks WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.DurationMS, &t.AlbumID, &t.ArtistID, &artistIDs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query track: %w", err)
	}

	ids, err := decodeStrings(artistIDs)
	if err != nil {
		return nil, err
	}
	t.ArtistIDs = ids
	return &t, nil
}

// MissingTrackIDs returns the subset of ids with no stored track record,
// preserving input order. Duplicates are collapsed.
func (s *Store) MissingTrackIDs(ctx context.Context, ids []string) ([]string, error) {
	return s.missingIDs(ctx, "tracks", ids)
}

// MissingAlbumIDs returns the subset of ids with no stored album record.
func (s *Store) MissingAlbumIDs(ctx context.Context, ids []string) ([]string, error) {
	return s.missingIDs(ctx, "albums", ids)
}

// MissingArtistIDs returns the subset of ids with no stored artist record.
func (s *Store) MissingArtistIDs(ctx context.Context, ids []string) ([]string, error) {
	return s.missingIDs(ctx, "artists", ids)
}

func (s *Store) missingIDs(ctx context.Context, table string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	distinct := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		distinct = append(distinct, id)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(distinct)), ",")
	args := make([]any, len(distinct))
	for i, id := range distinct {
		args[i] = id
	}

	// Table name comes from a fixed internal set, never user input.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE id IN (%s)", table, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(distinct))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}

	var missing []string
	for _, id := range distinct {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
