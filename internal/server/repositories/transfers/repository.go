// Package transfers persists the durable audit rows of transfers and their
// stored files.
package transfers

import (
	"context"

	"github.com/dmitrijs2005/droplink/internal/server/models"
)

type Repository interface {
	// CreateStarted inserts the initial row for a freshly created transfer.
	CreateStarted(ctx context.Context, code string, fileSize *int64) (*models.TransferRecord, error)

	// Finalize records the terminal status, final receiver count, completion
	// time and duration for the transfer matching code.
	Finalize(ctx context.Context, code string, status models.TransferStatus, receiverCount int) (*models.TransferRecord, error)

	// AttachFile idempotently attaches file metadata to the transfer
	// matching code. Duplicate attach calls are a no-op, not an error.
	AttachFile(ctx context.Context, code string, storageKey string, size *int64, mimeType *string) error

	// GetByCode returns the most recent record for code.
	GetByCode(ctx context.Context, code string) (*models.TransferRecord, error)
}
