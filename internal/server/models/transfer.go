// Package models defines the data model of a transfer: the TTL-bound session
// record held in the key/value store and the durable rows persisted in the
// database.
package models

import "time"

// TransferStatus is the lifecycle state of a transfer session.
// Valid transitions are started → completed and started → failed.
type TransferStatus string

const (
	StatusStarted   TransferStatus = "started"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// TransferSession is the TTL-expiring record of one transfer, keyed by its
// transfer code. It is rewritten in full on every mutation; each rewrite
// refreshes the TTL to the configured session lifetime.
type TransferSession struct {
	// SessionID is an opaque internal identifier, never exposed externally.
	SessionID string `json:"sessionId"`
	// TransferCode is a 6–8 digit string, unique among live sessions.
	TransferCode string         `json:"transferCode"`
	Status       TransferStatus `json:"status"`
	// CreatedAt and ExpiresAt are epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
	ExpiresAt int64 `json:"expiresAt"`
	// FileSize and MimeType are optional descriptive metadata.
	FileSize *int64  `json:"fileSize"`
	MimeType *string `json:"mimeType"`
	// StorageKey is set once an upload target is issued and kept for the
	// session's entire life.
	StorageKey *string `json:"storageKey"`
}

// Expired reports whether the session's expiry lies at or before now.
// Expired sessions are treated as absent on every read path.
func (s *TransferSession) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// TransferRecord is the durable audit row for a transfer.
type TransferRecord struct {
	ID            string
	TransferCode  string
	FileSize      *int64
	Status        TransferStatus
	ReceiverCount int
	CreatedAt     time.Time
	CompletedAt   *time.Time
	// Duration is the textual representation of the Postgres interval
	// between creation and completion.
	Duration *string
}

// FileRecord is the durable metadata of a stored file attached to a transfer.
type FileRecord struct {
	TransferID string
	StorageKey string
	Size       *int64
	MimeType   *string
}
