package sessions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/droplink/internal/common"
	"github.com/dmitrijs2005/droplink/internal/logging"
	sc "github.com/dmitrijs2005/droplink/internal/server/config"
	"github.com/dmitrijs2005/droplink/internal/server/kv"
	"github.com/dmitrijs2005/droplink/internal/server/models"
)

// --- fakes ---

type attachCall struct {
	code       string
	storageKey string
}

type fakeRecords struct {
	created   []string
	finalized []string
	attached  []attachCall

	record *models.TransferRecord

	createErr   error
	finalizeErr error
}

func (f *fakeRecords) CreateStarted(ctx context.Context, code string, fileSize *int64) (*models.TransferRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, code)
	return &models.TransferRecord{ID: "rec", TransferCode: code, Status: models.StatusStarted}, nil
}

func (f *fakeRecords) Finalize(ctx context.Context, code string, status models.TransferStatus, receiverCount int) (*models.TransferRecord, error) {
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized = append(f.finalized, code)
	return &models.TransferRecord{ID: "rec", TransferCode: code, Status: status, ReceiverCount: receiverCount}, nil
}

func (f *fakeRecords) AttachFile(ctx context.Context, code string, storageKey string, size *int64, mimeType *string) error {
	f.attached = append(f.attached, attachCall{code: code, storageKey: storageKey})
	return nil
}

func (f *fakeRecords) GetByCode(ctx context.Context, code string) (*models.TransferRecord, error) {
	if f.record == nil || f.record.TransferCode != code {
		return nil, common.NewAppError(common.CodeNotFound, "transfer record not found", 404)
	}
	return f.record, nil
}

type fakePresigner struct {
	uploadKeys   []string
	downloadKeys []string
	err          error
}

func (f *fakePresigner) PresignUpload(ctx context.Context, key string, contentType *string, contentLength *int64, expires time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploadKeys = append(f.uploadKeys, key)
	return "https://store/upload/" + key, nil
}

func (f *fakePresigner) PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.downloadKeys = append(f.downloadKeys, key)
	return "https://store/download/" + key, nil
}

// collidingStore reports every key as taken, exhausting code generation.
type collidingStore struct {
	kv.Store
}

func (collidingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "{}", true, nil
}

// --- helpers ---

type fixture struct {
	svc       *Service
	store     *kv.MemoryStore
	records   *fakeRecords
	presigner *fakePresigner
	cfg       *sc.Config
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &sc.Config{}
	cfg.LoadDefaults()

	f := &fixture{
		store:     kv.NewMemoryStore(),
		records:   &fakeRecords{},
		presigner: &fakePresigner{},
		cfg:       cfg,
		now:       time.Now(),
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	f.svc = NewService(f.store, f.records, f.presigner, cfg, logger)
	f.svc.now = func() time.Time { return f.now }
	f.store.SetClock(func() time.Time { return f.now })

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func requireAppError(t *testing.T, err error, code common.ErrorCode) {
	t.Helper()
	appErr, ok := common.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

var codeFormat = regexp.MustCompile(`^\d{6,8}$`)

// --- CreateSession ---

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	size := int64(2048)
	res, err := f.svc.CreateSession(context.Background(), &size, nil)

	require.NoError(t, err)
	assert.Regexp(t, codeFormat, res.TransferCode)
	assert.Greater(t, res.ExpiresAt, f.now.UnixMilli())
	assert.Equal(t, []string{res.TransferCode}, f.records.created)
}

func TestCreateSession_NilSizeAllowed(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSession(context.Background(), nil, nil)
	require.NoError(t, err)
}

func TestCreateSession_NegativeSize(t *testing.T) {
	f := newFixture(t)

	size := int64(-1)
	_, err := f.svc.CreateSession(context.Background(), &size, nil)
	requireAppError(t, err, common.CodeInvalidInput)
}

func TestCreateSession_UniqueCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	b, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.TransferCode, b.TransferCode)
}

func TestCreateSession_GeneratorExhaustion(t *testing.T) {
	f := newFixture(t)
	f.svc.store = collidingStore{}

	_, err := f.svc.CreateSession(context.Background(), nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrorInternal)
	_, isApp := common.AsAppError(err)
	assert.False(t, isApp, "generator exhaustion is an internal failure, not a user-facing outcome")
}

// --- JoinSession ---

func TestJoinSession_InvalidCode(t *testing.T) {
	f := newFixture(t)

	for _, code := range []string{"", "12345", "123456789", "12345x"} {
		_, err := f.svc.JoinSession(context.Background(), code, "10.0.0.1")
		requireAppError(t, err, common.CodeInvalidInput)
	}
}

func TestJoinSession_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.JoinSession(context.Background(), "123456", "10.0.0.1")
	requireAppError(t, err, common.CodeNotFound)
}

func TestJoinSession_CountsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 1; i <= 3; i++ {
		join, err := f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), join.ReceiverCount)
		assert.False(t, seen[join.ReceiverID], "receiver ids must be unique")
		seen[join.ReceiverID] = true
	}
}

func TestJoinSession_MaxReceivers(t *testing.T) {
	f := newFixture(t)
	f.cfg.MaxReceiversPerSession = 2
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	require.NoError(t, err)
	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	require.NoError(t, err)

	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	requireAppError(t, err, common.CodeMaxReceivers)
}

func TestJoinSession_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.cfg.RateLimitPerMinute = 3
	f.svc.limiter = NewRateLimiter(f.store, 3)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
		require.NoError(t, err)
	}

	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	requireAppError(t, err, common.CodeRateLimited)

	// a different address is unaffected
	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.2")
	require.NoError(t, err)

	// the window lapses and the original address succeeds again
	f.advance(61 * time.Second)
	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	require.NoError(t, err)
}

func TestJoinSession_EmptyAddressBypassesRateLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.limiter = NewRateLimiter(f.store, 1)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.JoinSession(ctx, res.TransferCode, "")
		require.NoError(t, err)
	}
}

func TestJoinSession_ExpiredSessionIsAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	f.advance(f.cfg.SessionTTL + time.Minute)

	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	requireAppError(t, err, common.CodeNotFound)
}

// --- IssueUploadTarget ---

func TestIssueUploadTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	mime := "application/pdf"
	target, err := f.svc.IssueUploadTarget(ctx, res.TransferCode, "my report.pdf", 2048, &mime)

	require.NoError(t, err)
	assert.Contains(t, target.UploadURL, target.StorageKey)
	assert.Contains(t, target.StorageKey, "my-report.pdf")
	assert.Greater(t, target.ExpiresAt, f.now.UnixMilli())
}

func TestIssueUploadTarget_IdempotentKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	first, err := f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	require.NoError(t, err)
	second, err := f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	require.NoError(t, err)

	assert.Equal(t, first.StorageKey, second.StorageKey)
}

func TestIssueUploadTarget_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		code     string
		fileName string
		fileSize int64
	}{
		{"bad code", "12x", "a.bin", 10},
		{"empty file name", res.TransferCode, "", 10},
		{"zero size", res.TransferCode, "a.bin", 0},
		{"negative size", res.TransferCode, "a.bin", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssueUploadTarget(ctx, tt.code, tt.fileName, tt.fileSize, nil)
			requireAppError(t, err, common.CodeInvalidInput)
		})
	}
}

func TestIssueUploadTarget_CompletedSessionForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	_, err = f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	requireAppError(t, err, common.CodeForbidden)
}

// --- CompleteTransfer ---

func TestCompleteTransfer_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.1")
	require.NoError(t, err)
	_, err = f.svc.JoinSession(ctx, res.TransferCode, "10.0.0.2")
	require.NoError(t, err)

	result, err := f.svc.CompleteTransfer(ctx, res.TransferCode, true)

	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.ReceiverCount)
	assert.Equal(t, []string{res.TransferCode}, f.records.finalized)

	// presence is cleared, session stays visible with terminal status
	count, err := f.svc.ReceiverCount(ctx, res.TransferCode)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	session, err := f.svc.GetLiveSession(ctx, res.TransferCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, session.Status)
}

func TestCompleteTransfer_Failed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	result, err := f.svc.CompleteTransfer(ctx, res.TransferCode, false)

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestCompleteTransfer_AttachesStoredFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	target, err := f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	require.NoError(t, err)

	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	require.Len(t, f.records.attached, 1)
	assert.Equal(t, target.StorageKey, f.records.attached[0].storageKey)
}

func TestCompleteTransfer_LiveOnlySkipsAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	assert.Empty(t, f.records.attached)
}

func TestCompleteTransfer_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CompleteTransfer(context.Background(), "123456", true)
	requireAppError(t, err, common.CodeNotFound)
}

// --- IssueDownloadTarget ---

func TestIssueDownloadTarget_StoredTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	target, err := f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	require.NoError(t, err)
	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	dl, err := f.svc.IssueDownloadTarget(ctx, res.TransferCode)

	require.NoError(t, err)
	assert.Contains(t, dl.DownloadURL, target.StorageKey)
	assert.Greater(t, dl.ExpiresAt, f.now.UnixMilli())
}

func TestIssueDownloadTarget_LiveOnlyTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	_, err = f.svc.IssueDownloadTarget(ctx, res.TransferCode)
	requireAppError(t, err, common.CodeNotFound)
}

func TestIssueDownloadTarget_NotReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.IssueDownloadTarget(ctx, res.TransferCode)
	requireAppError(t, err, common.CodeForbidden)
}

func TestIssueDownloadTarget_PresignerError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	_, err = f.svc.IssueUploadTarget(ctx, res.TransferCode, "a.bin", 10, nil)
	require.NoError(t, err)
	_, err = f.svc.CompleteTransfer(ctx, res.TransferCode, true)
	require.NoError(t, err)

	f.presigner.err = errors.New("store down")

	_, err = f.svc.IssueDownloadTarget(ctx, res.TransferCode)
	require.Error(t, err)
	_, isApp := common.AsAppError(err)
	assert.False(t, isApp)
}

func TestTransferRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TransferRecord(ctx, "12ab56")
	requireAppError(t, err, common.CodeInvalidInput)

	_, err = f.svc.TransferRecord(ctx, "123456")
	requireAppError(t, err, common.CodeNotFound)

	f.records.record = &models.TransferRecord{
		TransferCode:  "123456",
		Status:        models.StatusCompleted,
		ReceiverCount: 2,
	}

	rec, err := f.svc.TransferRecord(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.ReceiverCount)
}
