package interfaces

import (
	"context"
	"io"
	"time"
)

// ProviderKind identifies the backend family a provider belongs to.
// It replaces concrete-type checks at call sites: code that needs a
// capability asks the kind, not the implementation.
type ProviderKind int

const (
	// KindLocal stores objects on the local filesystem.
	KindLocal ProviderKind = iota
	// KindS3 stores objects in Amazon S3 or an S3-compatible service.
	KindS3
	// KindGCS stores objects in Google Cloud Storage.
	KindGCS
	// KindSupabase stores objects in Supabase Storage.
	KindSupabase
	// KindIPFS stores objects in an IPFS node's mutable file system.
	KindIPFS
)

// String returns the kind name as used in configuration files.
func (k ProviderKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindS3:
		return "s3"
	case KindGCS:
		return "gcs"
	case KindSupabase:
		return "supabase"
	case KindIPFS:
		return "ipfs"
	default:
		return "unknown"
	}
}

// DirectFilesystemAccess reports whether objects stored by this kind of
// provider can be read directly from the local filesystem, bypassing the
// provider. The file-serving endpoint uses this instead of type checks.
func (k ProviderKind) DirectFilesystemAccess() bool {
	return k == KindLocal
}

// ObjectInfo describes a stored object. Size and ModTime come from the
// backend; ContentType and Custom are populated when the backend (or its
// sidecar metadata) recorded them.
type ObjectInfo struct {
	Size        int64             `json:"size"`
	ModTime     time.Time         `json:"mod_time"`
	ContentType string            `json:"content_type,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// PresignedUpload describes how a client uploads directly to a backend
// without routing bytes through this process. For backends without native
// signing (local filesystem) the URL points at the local upload endpoint;
// callers must treat that as a valid, if degenerate, response.
type PresignedUpload struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Provider is the contract every storage backend must satisfy.
//
// Upload is idempotent-overwrite by key: storing twice under the same key
// replaces the object. size is the content length in bytes, or -1 when
// the content is a stream of unknown total length. Implementations map
// every vendor-specific failure to a *StorageError (or ErrNotFound for
// missing objects) so callers never depend on vendor error hierarchies.
type Provider interface {
	// Upload stores content under key and returns a resolvable URL.
	Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error)

	// Download retrieves the full content stored under key.
	// Returns an error wrapping ErrNotFound if the key does not exist.
	Download(ctx context.Context, key string) ([]byte, error)

	// PresignUpload issues a time-limited descriptor for a direct client upload.
	PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*PresignedUpload, error)

	// PresignDownload issues a time-limited URL for a direct client download.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete removes the object under key. It returns false (and no error)
	// if the key was already absent, true if an object was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether an object is stored under key.
	// It never fails for a missing key.
	Exists(ctx context.Context, key string) (bool, error)

	// Metadata returns information about the object stored under key.
	// Returns an error wrapping ErrNotFound if the key does not exist.
	Metadata(ctx context.Context, key string) (*ObjectInfo, error)

	// Name returns the configured name of this provider instance.
	Name() string

	// Kind returns the backend family of this provider.
	Kind() ProviderKind
}

// FilesystemProvider is implemented by providers whose kind reports
// DirectFilesystemAccess. The file-serving endpoint uses it to stream
// stored bytes without routing them through the manager; ResolvePath
// re-applies the same path-containment check on every read.
type FilesystemProvider interface {
	Provider

	// BasePath returns the resolved confinement root.
	BasePath() string

	// ResolvePath maps a storage key to an absolute path beneath the
	// base directory, rejecting escapes with a *SecurityError.
	ResolvePath(key string) (string, error)
}
