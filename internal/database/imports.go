package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wikimport/internal/models"
)

// CreateImportRun records the start of an import.
func (db *DB) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.ImportRunning
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO import_runs (id, status, source, user_id, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.Source, run.UserID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

// FinishImportRun stores the outcome of an import.
func (db *DB) FinishImportRun(ctx context.Context, run *models.ImportRun) error {
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	res, err := db.ExecContext(ctx, `
		UPDATE import_runs
		SET status = ?, pages_seen = ?, pages_imported = ?, pages_skipped = ?, pages_failed = ?,
			report = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, run.PagesSeen, run.PagesImported, run.PagesSkipped, run.PagesFailed,
		run.Report, run.Error, run.FinishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish import run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("import run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetImportRun retrieves an import run by ID.
func (db *DB) GetImportRun(ctx context.Context, id string) (*models.ImportRun, error) {
	run := &models.ImportRun{}
	err := db.QueryRowContext(ctx, `
		SELECT id, status, source, user_id, pages_seen, pages_imported, pages_skipped, pages_failed,
			   report, error, started_at, finished_at
		FROM import_runs WHERE id = ?
	`, id).Scan(
		&run.ID, &run.Status, &run.Source, &run.UserID, &run.PagesSeen, &run.PagesImported,
		&run.PagesSkipped, &run.PagesFailed, &run.Report, &run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	return run, nil
}

// ListImportRuns retrieves the most recent import runs.
func (db *DB) ListImportRuns(ctx context.Context, limit int) ([]models.ImportRun, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, status, source, user_id, pages_seen, pages_imported, pages_skipped, pages_failed,
			   '', error, started_at, finished_at
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ImportRun
	for rows.Next() {
		var r models.ImportRun
		if err := rows.Scan(&r.ID, &r.Status, &r.Source, &r.UserID, &r.PagesSeen, &r.PagesImported,
			&r.PagesSkipped, &r.PagesFailed, &r.Report, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
