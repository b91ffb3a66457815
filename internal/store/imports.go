package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateImporterState persists a new import run in pending status.
func (s *Store) CreateImporterState(ctx context.Context, state ImporterState) error {
	files, err := encodeStrings(state.FilePaths)
	if err != nil {
		return fmt.Errorf("failed to encode file paths: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO imports (id, user_id, kind, status, cursor, total, imported, skipped, errors, files, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		state.ID,
		state.UserID,
		state.Kind,
		state.Status,
		state.Cursor,
		state.Total,
		state.Imported,
		state.Skipped,
		state.Errors,
		files,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert importer state: %w", err)
	}
	return nil
}

// GetImporterState returns the persisted state of an import run.
func (s *Store) GetImporterState(ctx context.Context, id string) (*ImporterState, error) {
	var state ImporterState
	var createdAt, updatedAt int64
	var files string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, status, cursor, total, imported, skipped, errors, files, created_at, updated_at
		FROM imports WHERE id = ?
	`, id).Scan(
		&state.ID,
		&state.UserID,
		&state.Kind,
		&state.Status,
		&state.Cursor,
		&state.Total,
		&state.Imported,
		&state.Skipped,
		&state.Errors,
		&files,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query importer state: %w", err)
	}

	paths, err := decodeStrings(files)
	if err != nil {
		return nil, err
	}
	state.FilePaths = paths
	state.CreatedAt = time.Unix(createdAt, 0).UTC()
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &state, nil
}

// SetImportStatus transitions an import run's lifecycle status.
func (s *Store) SetImportStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE imports SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update import status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("import %s: %w", id, ErrNotFound)
	}
	return nil
}

// BatchCounts carries per-batch progress deltas.
type BatchCounts struct {
	Imported int
	Skipped  int
	Errors   int
}

// CommitImportBatch appends a batch of events and advances the import cursor
// in one transaction. A crash between batches therefore never loses a
// checkpoint and never re-credits one; the cursor only moves forward.
func (s *Store) CommitImportBatch(ctx context.Context, importID string, events []PlaybackEvent, cursor int, counts BatchCounts) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPlaysTx(ctx, tx, events); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE imports
		SET cursor = ?, imported = imported + ?, skipped = skipped + ?, errors = errors + ?, updated_at = ?
		WHERE id = ? AND cursor < ?
	`, cursor, counts.Imported, counts.Skipped, counts.Errors, time.Now().Unix(), importID, cursor)
	if err != nil {
		return fmt.Errorf("failed to advance import cursor: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("import %s: cursor %d does not advance", importID, cursor)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CommitSyncBatch appends new live-sync events and advances the user's
// last-synced marker in one transaction.
func (s *Store) CommitSyncBatch(ctx context.Context, userID string, events []PlaybackEvent, syncedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPlaysTx(ctx, tx, events); err != nil {
		return err
	}

	if err := advanceLastSynced(ctx, tx, userID, syncedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CleanupImports removes terminal import runs older than maxAge. Running and
// pending imports are always kept.
func (s *Store) CleanupImports(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM imports
		WHERE status IN (?, ?) AND updated_at < ?
	`, ImportStatusDone, ImportStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup imports: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
