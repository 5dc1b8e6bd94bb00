package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/droplink/internal/common"
	"github.com/dmitrijs2005/droplink/internal/dbx"
	"github.com/dmitrijs2005/droplink/internal/server/models"
)

// PostgresRepository implements transfer persistence over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, transfer_code, file_size, status, receiver_count, created_at, completed_at, duration::text`

func scanRecord(row *sql.Row) (*models.TransferRecord, error) {
	var r models.TransferRecord
	err := row.Scan(&r.ID, &r.TransferCode, &r.FileSize, &r.Status, &r.ReceiverCount, &r.CreatedAt, &r.CompletedAt, &r.Duration)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PostgresRepository) CreateStarted(ctx context.Context, code string, fileSize *int64) (*models.TransferRecord, error) {
	query := `
		INSERT INTO transfers (transfer_code, file_size, status)
		VALUES ($1, $2, 'started')
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, code, fileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}
	return rec, nil
}

// Finalize targets only the newest row for the code: codes may be reassigned
// after expiry, and completing a reused code must not rewrite a prior
// transfer's audit row.
func (r *PostgresRepository) Finalize(ctx context.Context, code string, status models.TransferStatus, receiverCount int) (*models.TransferRecord, error) {
	query := `
		UPDATE transfers
		SET status = $2,
			receiver_count = $3,
			completed_at = NOW(),
			duration = NOW() - created_at
		WHERE id = (
			SELECT id FROM transfers
			WHERE transfer_code = $1
			ORDER BY created_at DESC
			LIMIT 1
		)
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, code, status, receiverCount))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "transfer record not found", 404)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize transfer: %w", err)
	}
	return rec, nil
}

// AttachFile relies on the (transfer_id, storage_key) unique constraint:
// a duplicate registration for the same transfer affects zero rows. Like
// Finalize, it binds to the newest row for a possibly reused code.
func (r *PostgresRepository) AttachFile(ctx context.Context, code string, storageKey string, size *int64, mimeType *string) error {
	query := `
		INSERT INTO files (transfer_id, storage_key, size, mime_type)
		SELECT id, $2, $3, $4
		FROM (
			SELECT id FROM transfers
			WHERE transfer_code = $1
			ORDER BY created_at DESC
			LIMIT 1
		) latest
		ON CONFLICT DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, code, storageKey, size, mimeType); err != nil {
		return fmt.Errorf("failed to attach file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (*models.TransferRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transfers
		WHERE transfer_code = $1
		ORDER BY created_at DESC
		LIMIT 1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "transfer record not found", 404)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select transfer: %w", err)
	}
	return rec, nil
}
