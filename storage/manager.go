package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
	"github.com/mediaforge/artifactstore/metrics"
)

// SizeUnknown marks content whose total length is not known up front,
// e.g. a streamed source. Size-based routing conditions never match it
// and the size ceiling cannot be enforced before upload.
const SizeUnknown int64 = -1

// StoreRequest carries one artifact to be persisted. Content may be a
// fixed buffer (bytes.Reader) or a stream; Size is SizeUnknown for
// streams of unbounded length. Retries rewind Content when it implements
// io.Seeker; non-seekable streams get a single upload attempt.
type StoreRequest struct {
	ArtifactID   string
	ArtifactType string
	ContentType  string
	TenantID     string
	BoardID      string
	Content      io.Reader
	Size         int64
}

// Manager is the single entry point to the artifact storage subsystem.
// It owns validation, key derivation, routing and retry-wrapped upload,
// and delegates simple reads and deletes to the resolved provider.
//
// The provider registry and configuration are read-only after
// construction, so a Manager is safe for unbounded concurrent use
// without external locking.
type Manager struct {
	cfg       *config.StorageConfig
	providers map[string]interfaces.Provider
	clock     clock.Clock
	log       *slog.Logger
}

// NewManager creates a manager over an immutable configuration and a
// registry of constructed providers.
func NewManager(cfg *config.StorageConfig, providers map[string]interfaces.Provider, log *slog.Logger) *Manager {
	return newManagerWithClock(cfg, providers, log, clock.New())
}

// newManagerWithClock lets tests inject a mock clock for the retry loop.
func newManagerWithClock(cfg *config.StorageConfig, providers map[string]interfaces.Provider, log *slog.Logger, clk clock.Clock) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		providers: providers,
		clock:     clk,
		log:       log,
	}
}

// StoreArtifact validates the request, derives and sanitizes a storage
// key, routes the artifact to a provider and uploads with bounded retry.
// Validation and security failures propagate immediately with zero side
// effects; no provider is ever invoked for them.
func (m *Manager) StoreArtifact(ctx context.Context, req StoreRequest) (*interfaces.ArtifactReference, error) {
	if !m.cfg.ContentTypeAllowed(req.ContentType) {
		metrics.ValidationRejectionsTotal.WithLabelValues("content_type").Inc()
		return nil, &interfaces.ValidationError{Reason: fmt.Sprintf("content type %q is not allowed", req.ContentType)}
	}
	if req.Size >= 0 && req.Size > m.cfg.MaxFileSize {
		metrics.ValidationRejectionsTotal.WithLabelValues("size").Inc()
		return nil, &interfaces.ValidationError{Reason: fmt.Sprintf("content size %d exceeds limit %d", req.Size, m.cfg.MaxFileSize)}
	}

	now := m.clock.Now()
	key := BuildKey(KeyParts{
		TenantID:     req.TenantID,
		ArtifactType: req.ArtifactType,
		BoardID:      req.BoardID,
		ArtifactID:   req.ArtifactID,
	}, now)
	if err := ValidateKey(key); err != nil {
		metrics.SecurityRejectionsTotal.Inc()
		m.log.Warn("Rejected unsafe storage key",
			slog.String("artifact_id", req.ArtifactID),
			slog.String("tenant", req.TenantID),
			"err", err)
		return nil, err
	}

	providerName := m.route(req.ArtifactType, req.Size)
	provider, ok := m.providers[providerName]
	if !ok {
		return nil, &interfaces.StorageError{Provider: providerName, Op: "upload", Err: fmt.Errorf("provider not registered")}
	}

	meta := map[string]string{
		"artifact_id":   req.ArtifactID,
		"artifact_type": req.ArtifactType,
	}
	if req.TenantID != "" {
		meta["tenant_id"] = req.TenantID
	}
	if req.BoardID != "" {
		meta["board_id"] = req.BoardID
	}

	seeker, rewindable := req.Content.(io.Seeker)
	maxAttempts := m.cfg.UploadMaxRetries
	if !rewindable {
		// A stream that cannot be rewound cannot be safely re-sent.
		maxAttempts = 1
	}

	start := m.clock.Now()
	var url string
	r := newRetrier(maxAttempts, m.cfg.UploadRetryBase, m.clock)
	err := r.do(ctx, func(attempt int) error {
		if attempt > 1 {
			metrics.UploadRetriesTotal.WithLabelValues(providerName).Inc()
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind content for retry: %w", err)
			}
			m.log.Debug("Retrying artifact upload",
				slog.String("artifact_id", req.ArtifactID),
				slog.String("provider", providerName),
				slog.Int("attempt", attempt))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.UploadTimeout)
		defer cancel()

		uploaded, err := provider.Upload(attemptCtx, key, req.Content, req.Size, req.ContentType, meta)
		if err != nil {
			return err
		}
		url = uploaded
		return nil
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(providerName, req.ArtifactType, "error").Inc()
		m.log.Error("Artifact upload failed",
			slog.String("artifact_id", req.ArtifactID),
			slog.String("provider", providerName),
			slog.String("key", key),
			"err", err)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &interfaces.StorageError{Provider: providerName, Op: "upload", Err: err}
	}

	metrics.UploadsTotal.WithLabelValues(providerName, req.ArtifactType, "success").Inc()
	metrics.UploadDuration.WithLabelValues(providerName).Observe(m.clock.Since(start).Seconds())

	size := req.Size
	if size < 0 {
		size = 0
	}

	m.log.Info("Stored artifact",
		slog.String("artifact_id", req.ArtifactID),
		slog.String("provider", providerName),
		slog.String("key", key),
		slog.Int64("size", size))

	return &interfaces.ArtifactReference{
		ArtifactID:  req.ArtifactID,
		StorageKey:  key,
		Provider:    providerName,
		URL:         url,
		ContentType: req.ContentType,
		Size:        size,
		CreatedAt:   now.UTC(),
	}, nil
}

// route walks the routing rules in order and returns the first matching
// provider name, falling back to the default provider. A rule with a
// size condition is skipped when the content length is unknown.
func (m *Manager) route(artifactType string, size int64) string {
	for _, rule := range m.cfg.RoutingRules {
		cond := rule.Condition
		if cond == nil {
			return rule.Provider
		}
		if cond.ArtifactType != "" && cond.ArtifactType != artifactType {
			continue
		}
		if cond.SizeGreaterThan > 0 {
			if size < 0 || size <= cond.SizeGreaterThan {
				continue
			}
		}
		return rule.Provider
	}
	return m.cfg.DefaultProvider
}

// provider resolves a provider name from the registry. The delegated
// operations accept caller-supplied keys, so the key is re-validated
// here before any backend sees it.
func (m *Manager) provider(key, name, op string) (interfaces.Provider, error) {
	if err := ValidateKey(key); err != nil {
		metrics.SecurityRejectionsTotal.Inc()
		m.log.Warn("Rejected unsafe storage key",
			slog.String("provider", name),
			slog.String("op", op),
			"err", err)
		return nil, err
	}
	p, ok := m.providers[name]
	if !ok {
		return nil, &interfaces.StorageError{Provider: name, Op: op, Err: fmt.Errorf("provider not registered")}
	}
	return p, nil
}

// DownloadURL issues a presigned download URL from the named provider.
// No retry and no key re-derivation happens here.
func (m *Manager) DownloadURL(ctx context.Context, key, providerName string, ttl time.Duration) (string, error) {
	p, err := m.provider(key, providerName, "presign_download")
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = m.cfg.PresignTTL
	}
	return p.PresignDownload(ctx, key, ttl)
}

// UploadURL issues a presigned upload descriptor from the named provider.
func (m *Manager) UploadURL(ctx context.Context, key, providerName, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	p, err := m.provider(key, providerName, "presign_upload")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = m.cfg.PresignTTL
	}
	return p.PresignUpload(ctx, key, contentType, ttl)
}

// DeleteArtifact removes the object under key from the named provider,
// reporting whether an object existed.
func (m *Manager) DeleteArtifact(ctx context.Context, key, providerName string) (bool, error) {
	p, err := m.provider(key, providerName, "delete")
	if err != nil {
		return false, err
	}
	return p.Delete(ctx, key)
}

// Download fetches the content stored under key from the named provider.
func (m *Manager) Download(ctx context.Context, key, providerName string) ([]byte, error) {
	p, err := m.provider(key, providerName, "download")
	if err != nil {
		return nil, err
	}
	return p.Download(ctx, key)
}

// ObjectMetadata fetches object information from the named provider.
func (m *Manager) ObjectMetadata(ctx context.Context, key, providerName string) (*interfaces.ObjectInfo, error) {
	p, err := m.provider(key, providerName, "metadata")
	if err != nil {
		return nil, err
	}
	return p.Metadata(ctx, key)
}

// Provider exposes a registered provider, e.g. for the file-serving
// endpoint to locate the local backend by capability.
func (m *Manager) Provider(name string) (interfaces.Provider, bool) {
	p, ok := m.providers[name]
	return p, ok
}
