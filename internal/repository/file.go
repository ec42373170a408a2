// Package repository wraps all SQL used throughout the API, the worker, and
// the reconciliation sweep.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Cecilia-Banda/multilingual-file-manager/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the id/owner pair.
	ErrNotFound = errors.New("record not found")
	// ErrStaleStatus is returned when a status update would move a record
	// backwards, e.g. completing a file that already failed.
	ErrStaleStatus = errors.New("illegal status transition")
)

// FileRepository persists FileRecords in Postgres.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

const fileColumns = `id, owner_id, original_name, storage_key, size_bytes, mime_type, status, uploaded_at, updated_at`

// Create inserts a pending record for a freshly accepted upload.
func (r *FileRepository) Create(ctx context.Context, rec *model.FileRecord) error {
	now := time.Now().UTC()
	rec.Status = model.StatusPending
	rec.UploadedAt = now
	rec.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.OwnerID, rec.OriginalName, rec.StorageKey, rec.SizeBytes, rec.MimeType, rec.Status, rec.UploadedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// GetByID returns a record by id regardless of owner. Used by the worker and
// the sweep, which act on events rather than on user requests.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id)
	return scanFile(row)
}

// GetByName returns the newest record owned by ownerID with the given
// original name.
func (r *FileRepository) GetByName(ctx context.Context, ownerID, name string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id=$1 AND original_name=$2
		ORDER BY uploaded_at DESC LIMIT 1
	`, ownerID, name)
	return scanFile(row)
}

// List returns all records owned by ownerID, newest first.
func (r *FileRepository) List(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id=$1 ORDER BY uploaded_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStatus moves a record to the given status and bumps updated_at. The
// WHERE clause restricts the update to states the transition is legal from,
// so concurrent writers can never push a record backwards.
func (r *FileRepository) UpdateStatus(ctx context.Context, id string, status model.FileStatus) error {
	from := transitionSources(status)
	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET status=$2, updated_at=$3
		WHERE id=$1 AND status = ANY($4)
	`, id, status, time.Now().UTC(), from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStaleStatus
	}
	return nil
}

// Rename updates the original name, storage key, and size after a blob
// rename. size covers content replacement during the same update.
func (r *FileRepository) Rename(ctx context.Context, id, newName, newKey string, size int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET original_name=$2, storage_key=$3, size_bytes=$4, updated_at=$5
		WHERE id=$1
	`, id, newName, newKey, size, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stuck returns records sitting in one of the given statuses since before
// the cutoff. Used by the reconciliation sweep.
func (r *FileRepository) Stuck(ctx context.Context, statuses []model.FileStatus, cutoff time.Time) ([]*model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
	`, statuses, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stuck files: %w", err)
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.OriginalName, &rec.StorageKey,
		&rec.SizeBytes, &rec.MimeType, &rec.Status, &rec.UploadedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &rec, nil
}

// transitionSources lists the statuses the target status may legally be
// reached from, derived from the model transition table.
func transitionSources(target model.FileStatus) []model.FileStatus {
	all := []model.FileStatus{model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed}
	var out []model.FileStatus
	for _, s := range all {
		if s.CanTransition(target) {
			out = append(out, s)
		}
	}
	return out
}
