package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// StartImportRun records the start of an import and returns the run ID
func (s *Storage) StartImportRun(ctx context.Context, kind ImportKind, sourceFile string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO import_runs (kind, source_file, started_at, status)
	VALUES (?, ?, ?, 'running')
	`, string(kind), sourceFile, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to start import run: %w", err)
	}
	return res.LastInsertId()
}

// CompleteImportRun records the completion of an import run
func (s *Storage) CompleteImportRun(ctx context.Context, runID int64, counts ImportCounts) error {
	status := "completed"
	if counts.Errored > 0 {
		status = "completed_with_errors"
	}

	_, err := s.db.ExecContext(ctx, `
	UPDATE import_runs
	SET completed_at = ?, rows_read = ?, rows_imported = ?, rows_skipped = ?,
	    rows_errored = ?, status = ?
	WHERE id = ?
	`, s.now().UTC(), counts.Read, counts.Imported, counts.Skipped, counts.Errored, status, runID)
	return err
}

// ListImportRuns returns recent import runs
func (s *Storage) ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, kind, source_file, started_at, completed_at,
	       rows_read, rows_imported, rows_skipped, rows_errored, status
	FROM import_runs
	ORDER BY started_at DESC, id DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		var (
			run       ImportRun
			kind      string
			completed sql.NullTime
		)
		err := rows.Scan(
			&run.ID,
			&kind,
			&run.SourceFile,
			&run.StartedAt,
			&completed,
			&run.Counts.Read,
			&run.Counts.Imported,
			&run.Counts.Skipped,
			&run.Counts.Errored,
			&run.Status,
		)
		if err != nil {
			return nil, err
		}
		run.Kind = ImportKind(kind)
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
