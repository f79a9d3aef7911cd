package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
	"github.com/mediaforge/artifactstore/metrics"
)

// MetadataSuffix is appended to an object's path to name its sidecar
// metadata file.
const MetadataSuffix = ".meta"

// defaultUploadEndpoint is the path prefix of the local HTTP upload
// endpoint used for degenerate presigned uploads.
const defaultUploadEndpoint = "/uploads"

// sidecarMetadata is the JSON document written next to each stored object.
type sidecarMetadata struct {
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// LocalProvider stores artifacts on the local filesystem beneath a
// configured base path. Every key is resolved, symlinks included, and
// must remain a descendant of the base path; escapes fail with a
// *interfaces.SecurityError before any filesystem I/O.
type LocalProvider struct {
	name           string
	basePath       string
	publicURLBase  string
	uploadEndpoint string
	strictMetadata bool
	log            *slog.Logger
}

var _ interfaces.Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a filesystem provider rooted at cfg.BasePath,
// creating the directory if needed.
func NewLocalProvider(name string, cfg config.ProviderConfig, log *slog.Logger) (*LocalProvider, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local provider %q: base_path is required", name)
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	// Resolve the base once so containment checks compare against the
	// real directory even when base_path itself is a symlink.
	resolved, err := filepath.EvalSymlinks(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	endpoint := cfg.UploadEndpoint
	if endpoint == "" {
		endpoint = defaultUploadEndpoint
	}

	return &LocalProvider{
		name:           name,
		basePath:       abs,
		publicURLBase:  strings.TrimSuffix(cfg.PublicURLBase, "/"),
		uploadEndpoint: strings.TrimSuffix(endpoint, "/"),
		strictMetadata: cfg.StrictMetadata,
		log:            log,
	}, nil
}

// BasePath returns the resolved confinement root. The file-serving
// endpoint reads beneath it directly and re-applies ResolvePath on every
// request.
func (p *LocalProvider) BasePath() string {
	return p.basePath
}

// ResolvePath maps a storage key to an absolute path beneath the base
// directory. The key is validated, joined to the base and fully
// resolved; any result outside the base directory is rejected with a
// *interfaces.SecurityError.
func (p *LocalProvider) ResolvePath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		metrics.SecurityRejectionsTotal.Inc()
		return "", err
	}

	full := filepath.Join(p.basePath, filepath.FromSlash(key))
	if !p.contains(full) {
		metrics.SecurityRejectionsTotal.Inc()
		return "", &interfaces.SecurityError{Key: key, Reason: "path escapes base directory"}
	}

	// Resolve symlinks on the deepest existing ancestor so a planted
	// link inside the tree cannot redirect writes outside of it.
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", &interfaces.StorageError{Provider: p.name, Op: "resolve", Err: err}
	}
	if !p.contains(resolved) {
		metrics.SecurityRejectionsTotal.Inc()
		return "", &interfaces.SecurityError{Key: key, Reason: "symlink resolves outside base directory"}
	}

	return full, nil
}

func (p *LocalProvider) contains(path string) bool {
	return path == p.basePath || strings.HasPrefix(path, p.basePath+string(filepath.Separator))
}

// Upload writes content beneath the base path using a temp-file rename,
// then best-effort writes the sidecar metadata file. A sidecar failure
// is logged and swallowed unless strict_metadata is configured.
func (p *LocalProvider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", &interfaces.StorageError{Provider: p.name, Op: "upload", Err: err}
	}

	written, err := atomicWrite(path, content)
	if err != nil {
		return "", &interfaces.StorageError{Provider: p.name, Op: "upload", Err: err}
	}

	sidecar := sidecarMetadata{
		ContentType: contentType,
		Size:        written,
		UploadedAt:  time.Now().UTC(),
		Custom:      metadata,
	}
	if err := p.writeSidecar(path, sidecar); err != nil {
		if p.strictMetadata {
			return "", &interfaces.StorageError{Provider: p.name, Op: "upload metadata", Err: err}
		}
		p.log.Warn("Failed to write sidecar metadata",
			slog.String("key", key),
			"err", err)
	}

	p.log.Debug("Stored artifact on filesystem",
		slog.String("key", key),
		slog.Int64("size", written))

	return p.publicURL(key, path), nil
}

// atomicWrite copies r into a temp file in the destination directory and
// renames it over the target, so readers never observe partial content.
func atomicWrite(destPath string, r io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(destPath), ".artifact_tmp_*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()
	defer func() {
		tempFile.Close()
		os.Remove(tempName)
	}()

	written, err := io.Copy(tempFile, r)
	if err != nil {
		return 0, err
	}
	if err := tempFile.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tempName, destPath); err != nil {
		return 0, err
	}
	return written, nil
}

func (p *LocalProvider) writeSidecar(path string, meta sidecarMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path+MetadataSuffix, data, 0644)
}

// readSidecar loads the sidecar document next to path, returning nil
// when no sidecar exists.
func readSidecar(path string) (*sidecarMetadata, error) {
	data, err := os.ReadFile(path + MetadataSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta sidecarMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (p *LocalProvider) publicURL(key, path string) string {
	if p.publicURLBase != "" {
		return p.publicURLBase + "/" + escapeKey(key)
	}
	return "file://" + path
}

// escapeKey URL-encodes each key segment while preserving separators.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Download reads the full content stored under key.
func (p *LocalProvider) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &interfaces.StorageError{Provider: p.name, Op: "download", Err: interfaces.ErrNotFound}
		}
		return nil, &interfaces.StorageError{Provider: p.name, Op: "download", Err: err}
	}
	return data, nil
}

// PresignUpload cannot issue a true presigned URL for local storage; it
// returns a descriptor pointing at the local HTTP upload endpoint.
func (p *LocalProvider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &interfaces.PresignedUpload{
		Method:    "PUT",
		URL:       p.uploadEndpoint + "/" + escapeKey(key),
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// PresignDownload returns the object's public URL; local storage has no
// signing mechanism, so the TTL only sets caller expectations.
func (p *LocalProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return "", err
	}
	return p.publicURL(key, path), nil
}

// Delete removes the object and its sidecar. It returns false when the
// object was already absent.
func (p *LocalProvider) Delete(ctx context.Context, key string) (bool, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &interfaces.StorageError{Provider: p.name, Op: "delete", Err: err}
	}
	if err := os.Remove(path + MetadataSuffix); err != nil && !os.IsNotExist(err) {
		p.log.Warn("Failed to remove sidecar metadata",
			slog.String("key", key),
			"err", err)
	}
	return true, nil
}

// Exists reports whether an object is stored under key. It never fails
// for a missing key.
func (p *LocalProvider) Exists(ctx context.Context, key string) (bool, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &interfaces.StorageError{Provider: p.name, Op: "exists", Err: err}
	}
	return !info.IsDir(), nil
}

// Metadata merges filesystem stat information with the sidecar document.
func (p *LocalProvider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &interfaces.StorageError{Provider: p.name, Op: "metadata", Err: interfaces.ErrNotFound}
		}
		return nil, &interfaces.StorageError{Provider: p.name, Op: "metadata", Err: err}
	}

	result := &interfaces.ObjectInfo{
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	sidecar, err := readSidecar(path)
	if err != nil {
		p.log.Warn("Failed to read sidecar metadata",
			slog.String("key", key),
			"err", err)
	} else if sidecar != nil {
		result.ContentType = sidecar.ContentType
		result.Custom = sidecar.Custom
	}

	return result, nil
}

// Name returns the configured provider name.
func (p *LocalProvider) Name() string {
	return p.name
}

// Kind returns interfaces.KindLocal.
func (p *LocalProvider) Kind() interfaces.ProviderKind {
	return interfaces.KindLocal
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
