package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// MockProvider implements interfaces.Provider for testing.
type MockProvider struct {
	mock.Mock
	name string
	kind interfaces.ProviderKind
}

func (m *MockProvider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	args := m.Called(ctx, key, content, size, contentType, metadata)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Download(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockProvider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	args := m.Called(ctx, key, contentType, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.PresignedUpload), args.Error(1)
}

func (m *MockProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ObjectInfo), args.Error(1)
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Kind() interfaces.ProviderKind {
	return m.kind
}

func testConfig(rules []config.RoutingRule) *config.StorageConfig {
	return &config.StorageConfig{
		DefaultProvider: "local",
		RoutingRules:    rules,
		MaxFileSize:     1_000_000_000,
		AllowedContentTypes: map[string]struct{}{
			"image/png": {},
			"video/mp4": {},
		},
		UploadMaxRetries: 3,
		UploadRetryBase:  time.Millisecond,
		UploadTimeout:    time.Second,
		PresignTTL:       time.Minute,
	}
}

func testManager(cfg *config.StorageConfig, providers map[string]interfaces.Provider) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(cfg, providers, logger)
}

func storeReq(artifactType, contentType string, size int64) StoreRequest {
	return StoreRequest{
		ArtifactID:   "art-1",
		ArtifactType: artifactType,
		ContentType:  contentType,
		TenantID:     "acme",
		Content:      bytes.NewReader([]byte("payload")),
		Size:         size,
	}
}

func TestStoreArtifactRejectsDisallowedContentType(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	_, err := m.StoreArtifact(context.Background(), storeReq("binary", "application/x-msdownload", 10))

	var valErr *interfaces.ValidationError
	require.ErrorAs(t, err, &valErr)
	local.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStoreArtifactRejectsOversizedContent(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	_, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 2_000_000_000))

	var valErr *interfaces.ValidationError
	require.ErrorAs(t, err, &valErr)
	local.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStoreArtifactRejectsUnsafeIdentifiers(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	req := storeReq("image", "image/png", 10)
	req.ArtifactID = "../../etc/passwd"
	_, err := m.StoreArtifact(context.Background(), req)

	var secErr *interfaces.SecurityError
	require.ErrorAs(t, err, &secErr)
	local.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStoreArtifactRouting(t *testing.T) {
	rules := []config.RoutingRule{
		{
			Condition: &config.RuleCondition{ArtifactType: "video", SizeGreaterThan: 100_000_000},
			Provider:  "s3",
		},
		{Provider: "local"},
	}

	tests := []struct {
		name         string
		artifactType string
		contentType  string
		size         int64
		wantProvider string
	}{
		{"large video routes to s3", "video", "video/mp4", 150_000_000, "s3"},
		{"small video routes to local", "video", "video/mp4", 10_000_000, "local"},
		{"image of any size routes to local", "image", "image/png", 900_000_000, "local"},
		{"unknown size skips size rule", "video", "video/mp4", SizeUnknown, "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &MockProvider{name: "local", kind: interfaces.KindLocal}
			s3 := &MockProvider{name: "s3", kind: interfaces.KindS3}
			target := map[string]*MockProvider{"local": local, "s3": s3}[tt.wantProvider]
			target.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, tt.contentType, mock.Anything).
				Return("https://example.com/obj", nil).Once()

			m := testManager(testConfig(rules), map[string]interfaces.Provider{"local": local, "s3": s3})

			req := storeReq(tt.artifactType, tt.contentType, tt.size)
			if tt.size == SizeUnknown {
				// A non-seekable stream of unknown length.
				req.Content = bytes.NewBufferString("stream")
			}
			ref, err := m.StoreArtifact(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, tt.wantProvider, ref.Provider)
			local.AssertExpectations(t)
			s3.AssertExpectations(t)
		})
	}
}

func TestStoreArtifactUnknownProvider(t *testing.T) {
	rules := []config.RoutingRule{{Provider: "ghost"}}
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	m := testManager(testConfig(rules), map[string]interfaces.Provider{"local": local})

	_, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 10))

	var storErr *interfaces.StorageError
	require.ErrorAs(t, err, &storErr)
	assert.Equal(t, "ghost", storErr.Provider)
}

func TestStoreArtifactRetriesTransientFailures(t *testing.T) {
	transient := errors.New("connection reset")
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", transient).Twice()
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/obj", nil).Once()

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	ref, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 7))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/obj", ref.URL)
	local.AssertNumberOfCalls(t, "Upload", 3)
}

func TestStoreArtifactExhaustsRetries(t *testing.T) {
	transient := errors.New("backend down")
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", transient)

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	_, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 7))

	var storErr *interfaces.StorageError
	require.ErrorAs(t, err, &storErr)
	// The final failure chains the original cause.
	assert.ErrorIs(t, err, transient)
	local.AssertNumberOfCalls(t, "Upload", 3)
}

func TestStoreArtifactSingleAttemptForNonSeekableStreams(t *testing.T) {
	transient := errors.New("broken pipe")
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", transient)

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	req := storeReq("image", "image/png", SizeUnknown)
	req.Content = bytes.NewBufferString("unbounded stream")
	_, err := m.StoreArtifact(context.Background(), req)

	require.Error(t, err)
	local.AssertNumberOfCalls(t, "Upload", 1)
}

func TestStoreArtifactReference(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/obj", nil).Once()

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	req := storeReq("image", "image/png", 7)
	req.BoardID = "board-1"
	ref, err := m.StoreArtifact(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "art-1", ref.ArtifactID)
	assert.Equal(t, "local", ref.Provider)
	assert.Equal(t, "https://example.com/obj", ref.URL)
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, int64(7), ref.Size)
	assert.False(t, ref.CreatedAt.IsZero())
	assert.NoError(t, ValidateKey(ref.StorageKey))
	assert.Contains(t, ref.StorageKey, "acme/image/board-1/")
}

func TestStoreArtifactDistinctKeysForIdenticalRequests(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/obj", nil).Twice()

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	first, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 7))
	require.NoError(t, err)
	second, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 7))
	require.NoError(t, err)

	assert.NotEqual(t, first.StorageKey, second.StorageKey)
}

func TestDelegatedOperations(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("PresignDownload", mock.Anything, "t/image/a/original", time.Minute).
		Return("https://signed.example.com", nil).Once()
	local.On("Delete", mock.Anything, "t/image/a/original").Return(true, nil).Once()
	local.On("Download", mock.Anything, "t/image/a/original").Return([]byte("data"), nil).Once()

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	url, err := m.DownloadURL(context.Background(), "t/image/a/original", "local", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com", url)

	removed, err := m.DeleteArtifact(context.Background(), "t/image/a/original", "local")
	require.NoError(t, err)
	assert.True(t, removed)

	data, err := m.Download(context.Background(), "t/image/a/original", "local")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	local.AssertExpectations(t)
}

// Delegated operations accept caller-supplied keys, so they must apply
// the same key validation as the store path before any backend is
// reached. A traversal key must never make it to a provider whose keys
// have path semantics.
func TestDelegatedOperationsRejectTraversalKeys(t *testing.T) {
	ipfs := &MockProvider{name: "ipfs", kind: interfaces.KindIPFS}
	m := testManager(testConfig(nil), map[string]interfaces.Provider{"ipfs": ipfs})
	ctx := context.Background()
	const evil = "../../etc/passwd"

	var secErr *interfaces.SecurityError

	_, err := m.DownloadURL(ctx, evil, "ipfs", time.Minute)
	require.ErrorAs(t, err, &secErr)

	_, err = m.UploadURL(ctx, evil, "ipfs", "image/png", time.Minute)
	require.ErrorAs(t, err, &secErr)

	_, err = m.DeleteArtifact(ctx, evil, "ipfs")
	require.ErrorAs(t, err, &secErr)

	_, err = m.Download(ctx, evil, "ipfs")
	require.ErrorAs(t, err, &secErr)

	_, err = m.ObjectMetadata(ctx, evil, "ipfs")
	require.ErrorAs(t, err, &secErr)

	ipfs.AssertNotCalled(t, "PresignDownload", mock.Anything, mock.Anything, mock.Anything)
	ipfs.AssertNotCalled(t, "PresignUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ipfs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	ipfs.AssertNotCalled(t, "Download", mock.Anything, mock.Anything)
	ipfs.AssertNotCalled(t, "Metadata", mock.Anything, mock.Anything)
}

func TestStoreArtifactAppliesAttemptTimeout(t *testing.T) {
	local := &MockProvider{name: "local", kind: interfaces.KindLocal}
	local.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			deadline, ok := ctx.Deadline()
			assert.True(t, ok, "upload context has no deadline")
			assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		}).
		Return("https://example.com/obj", nil).Once()

	m := testManager(testConfig(nil), map[string]interfaces.Provider{"local": local})

	_, err := m.StoreArtifact(context.Background(), storeReq("image", "image/png", 7))
	require.NoError(t, err)
	local.AssertExpectations(t)
}

func TestDelegatedOperationsUnknownProvider(t *testing.T) {
	m := testManager(testConfig(nil), map[string]interfaces.Provider{})

	var storErr *interfaces.StorageError

	_, err := m.DownloadURL(context.Background(), "k", "ghost", time.Minute)
	require.ErrorAs(t, err, &storErr)

	_, err = m.DeleteArtifact(context.Background(), "k", "ghost")
	require.ErrorAs(t, err, &storErr)
}
