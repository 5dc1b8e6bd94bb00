// Package sessions implements the transfer-session lifecycle: creation with
// collision-checked codes, rate-limited joins, upload/download target
// issuance and completion. It is the only writer of session and presence
// state; the relay hub and the live notifier are read-only consumers.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/droplink/internal/common"
	"github.com/dmitrijs2005/droplink/internal/logging"
	"github.com/dmitrijs2005/droplink/internal/server/codes"
	sc "github.com/dmitrijs2005/droplink/internal/server/config"
	"github.com/dmitrijs2005/droplink/internal/server/kv"
	"github.com/dmitrijs2005/droplink/internal/server/models"
	"github.com/dmitrijs2005/droplink/internal/server/repositories/transfers"
	"github.com/dmitrijs2005/droplink/internal/server/storage"
)

type StartResult struct {
	TransferCode string
	ExpiresAt    int64
}

type JoinResult struct {
	TransferCode  string
	ReceiverID    string
	ReceiverCount int64
}

type UploadTarget struct {
	UploadURL  string
	StorageKey string
	ExpiresAt  int64
}

type CompleteResult struct {
	TransferCode  string
	Status        models.TransferStatus
	ReceiverCount int
}

type DownloadTarget struct {
	DownloadURL string
	ExpiresAt   int64
}

// Service orchestrates session state. All session mutations are full-record
// rewrites; every rewrite refreshes the TTL to the configured session
// lifetime.
type Service struct {
	store     kv.Store
	records   transfers.Repository
	presigner storage.Presigner
	generator *codes.Generator
	limiter   *RateLimiter
	presence  *Presence
	config    *sc.Config
	logger    logging.Logger
	now       func() time.Time
}

func NewService(store kv.Store, records transfers.Repository, presigner storage.Presigner, config *sc.Config, logger logging.Logger) *Service {
	return &Service{
		store:     store,
		records:   records,
		presigner: presigner,
		generator: codes.NewGenerator(config.CodeMinLength),
		limiter:   NewRateLimiter(store, config.RateLimitPerMinute),
		presence:  NewPresence(store),
		config:    config,
		logger:    logger.With("module", "sessions"),
		now:       time.Now,
	}
}

// generateUniqueCode draws random codes until one is free among live
// sessions. Attempts are bounded; exhaustion is an internal error, not a
// retryable condition.
func (s *Service) generateUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < s.config.CodeMaxAttempts; i++ {
		code, err := s.generator.Generate()
		if err != nil {
			return "", err
		}
		_, exists, err := s.store.Get(ctx, kv.TransferKey(code))
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate unique transfer code", common.ErrorInternal)
}

// loadSession reads and decodes the session for code. Absent, undecodable
// and past-expiry records all count as not found: expiry is lazy, every read
// checks it.
func (s *Service) loadSession(ctx context.Context, code string) (*models.TransferSession, error) {
	raw, ok, err := s.store.Get(ctx, kv.TransferKey(code))
	if err != nil {
		return nil, fmt.Errorf("session read: %w", err)
	}
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "transfer not found or expired", 404)
	}

	var session models.TransferSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	if session.Expired(s.now()) {
		return nil, common.NewAppError(common.CodeNotFound, "transfer not found or expired", 404)
	}
	return &session, nil
}

// writeSession rewrites the full session record and stamps a fresh expiry a
// session lifetime from now.
func (s *Service) writeSession(ctx context.Context, session *models.TransferSession) error {
	session.ExpiresAt = s.now().Add(s.config.SessionTTL).UnixMilli()

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := s.store.Set(ctx, kv.TransferKey(session.TransferCode), string(raw), s.config.SessionTTL); err != nil {
		return fmt.Errorf("session write: %w", err)
	}
	return nil
}

// CreateSession starts a new transfer: a fresh unique code, a started
// session record and the initial durable audit row.
func (s *Service) CreateSession(ctx context.Context, fileSize *int64, mimeType *string) (*StartResult, error) {
	if fileSize != nil && *fileSize < 0 {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid file size", 400)
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.TransferSession{
		SessionID:    uuid.NewString(),
		TransferCode: code,
		Status:       models.StatusStarted,
		CreatedAt:    now.UnixMilli(),
		FileSize:     fileSize,
		MimeType:     mimeType,
	}

	if err := s.writeSession(ctx, session); err != nil {
		return nil, err
	}

	if _, err := s.records.CreateStarted(ctx, code, fileSize); err != nil {
		return nil, fmt.Errorf("transfer record: %w", err)
	}

	s.logger.Info(ctx, "session created", "code", code)

	return &StartResult{TransferCode: code, ExpiresAt: session.ExpiresAt}, nil
}

// JoinSession registers one receiver for code and returns the post-add
// receiver count. The ceiling check and the add are not atomic with each
// other; under heavy concurrent joins the set may transiently exceed the
// ceiling by a small margin.
func (s *Service) JoinSession(ctx context.Context, code string, clientAddr string) (*JoinResult, error) {
	if !codes.Valid(code) {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid transfer code", 400)
	}

	if err := s.limiter.CheckAndConsume(ctx, clientAddr); err != nil {
		return nil, err
	}

	if _, err := s.loadSession(ctx, code); err != nil {
		return nil, err
	}

	current, err := s.presence.Count(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("presence read: %w", err)
	}
	if current >= int64(s.config.MaxReceiversPerSession) {
		return nil, common.NewAppError(common.CodeMaxReceivers, "maximum receivers reached", 403)
	}

	receiverID := uuid.NewString()
	if err := s.presence.Add(ctx, code, receiverID, s.config.SessionTTL); err != nil {
		return nil, err
	}

	count, err := s.presence.Count(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("presence read: %w", err)
	}

	return &JoinResult{TransferCode: code, ReceiverID: receiverID, ReceiverCount: count}, nil
}

// IssueUploadTarget hands out a short-lived write URL for the transfer's
// object. The storage key is minted once per session and reused on
// re-issuance so client retries stay idempotent.
func (s *Service) IssueUploadTarget(ctx context.Context, code string, fileName string, fileSize int64, mimeType *string) (*UploadTarget, error) {
	if !codes.Valid(code) {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid transfer code", 400)
	}
	if fileName == "" {
		return nil, common.NewAppError(common.CodeInvalidInput, "file name is required", 400)
	}
	if fileSize <= 0 {
		return nil, common.NewAppError(common.CodeInvalidInput, "file size must be positive", 400)
	}

	session, err := s.loadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusStarted {
		return nil, common.NewAppError(common.CodeForbidden, "transfer is not in a state that accepts uploads", 403)
	}

	var storageKey string
	if session.StorageKey != nil && *session.StorageKey != "" {
		storageKey = *session.StorageKey
	} else {
		storageKey = storage.GenerateStorageKey(fileName)
	}

	uploadURL, err := s.presigner.PresignUpload(ctx, storageKey, mimeType, &fileSize, s.presignLifetime())
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	session.StorageKey = &storageKey
	if err := s.writeSession(ctx, session); err != nil {
		return nil, err
	}

	return &UploadTarget{UploadURL: uploadURL, StorageKey: storageKey, ExpiresAt: session.ExpiresAt}, nil
}

// CompleteTransfer finalizes the session: the durable record gets the
// terminal status, receiver tally and duration; stored files get their
// metadata attached; presence is cleared. The session itself stays visible
// with its terminal status until the TTL lapses, so late observers see a
// final state instead of NOT_FOUND.
func (s *Service) CompleteTransfer(ctx context.Context, code string, success bool) (*CompleteResult, error) {
	if !codes.Valid(code) {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid transfer code", 400)
	}

	session, err := s.loadSession(ctx, code)
	if err != nil {
		return nil, err
	}

	receiverCount, err := s.presence.Count(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("presence read: %w", err)
	}

	status := models.StatusCompleted
	if !success {
		status = models.StatusFailed
	}

	record, err := s.records.Finalize(ctx, code, status, int(receiverCount))
	if err != nil {
		return nil, fmt.Errorf("transfer record: %w", err)
	}

	if session.StorageKey != nil && *session.StorageKey != "" {
		if err := s.records.AttachFile(ctx, code, *session.StorageKey, session.FileSize, session.MimeType); err != nil {
			return nil, fmt.Errorf("file record: %w", err)
		}
	}

	if err := s.presence.Clear(ctx, code); err != nil {
		return nil, fmt.Errorf("presence clear: %w", err)
	}

	session.Status = status
	if err := s.writeSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "transfer completed", "code", code, "status", status, "receivers", record.ReceiverCount)

	return &CompleteResult{TransferCode: record.TransferCode, Status: record.Status, ReceiverCount: record.ReceiverCount}, nil
}

// IssueDownloadTarget hands out a short-lived read URL for a completed,
// stored transfer. A completed transfer without a storage key was delivered
// live and has nothing stored; that yields NOT_FOUND, distinct from "session
// missing" only in message.
func (s *Service) IssueDownloadTarget(ctx context.Context, code string) (*DownloadTarget, error) {
	if !codes.Valid(code) {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid transfer code", 400)
	}

	session, err := s.loadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusCompleted {
		return nil, common.NewAppError(common.CodeForbidden, "transfer is not ready for download", 403)
	}
	if session.StorageKey == nil || *session.StorageKey == "" {
		return nil, common.NewAppError(common.CodeNotFound, "file not found for this transfer", 404)
	}

	lifetime := s.presignLifetime()
	downloadURL, err := s.presigner.PresignDownload(ctx, *session.StorageKey, lifetime)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}

	return &DownloadTarget{DownloadURL: downloadURL, ExpiresAt: s.now().Add(lifetime).UnixMilli()}, nil
}

// TransferRecord returns the durable audit row for code. Unlike the live
// session, the row survives expiry, so completed and lapsed transfers stay
// queryable.
func (s *Service) TransferRecord(ctx context.Context, code string) (*models.TransferRecord, error) {
	if !codes.Valid(code) {
		return nil, common.NewAppError(common.CodeInvalidInput, "invalid transfer code", 400)
	}
	return s.records.GetByCode(ctx, code)
}

// GetLiveSession returns the session for code when it is present and
// unexpired. Used by the relay hub and the live notifier; both treat any
// error as "session gone".
func (s *Service) GetLiveSession(ctx context.Context, code string) (*models.TransferSession, error) {
	return s.loadSession(ctx, code)
}

// ReceiverCount reports the current presence cardinality for code.
func (s *Service) ReceiverCount(ctx context.Context, code string) (int64, error) {
	return s.presence.Count(ctx, code)
}

// presignLifetime keeps presigned URLs shorter or equal to the session TTL,
// capped by the configured hard limit.
func (s *Service) presignLifetime() time.Duration {
	if s.config.SessionTTL < s.config.PresignCap {
		return s.config.SessionTTL
	}
	return s.config.PresignCap
}
