// Package storage issues time-limited upload and download URLs against an
// S3-compatible object store. File bytes never pass through this service;
// clients talk to the store directly via presigned URLs.
package storage

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Presigner issues short-lived object-storage URLs.
type Presigner interface {
	// PresignUpload returns a write URL for key. contentType and
	// contentLength are optional hints forwarded to the store.
	PresignUpload(ctx context.Context, key string, contentType *string, contentLength *int64, expires time.Duration) (string, error)

	// PresignDownload returns a read URL for key.
	PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error)
}

var whitespace = regexp.MustCompile(`\s+`)

// GenerateStorageKey derives a fresh object key from the original file name
// plus a random identifier, so distinct uploads never collide.
func GenerateStorageKey(fileName string) string {
	safeName := whitespace.ReplaceAllString(fileName, "-")
	return "uploads/" + uuid.NewString() + "/" + safeName
}
