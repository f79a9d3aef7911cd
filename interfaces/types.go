package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// ArtifactReference is the stable, resolvable reference returned by a
// successful store operation. It is immutable; the caller persists it
// (typically onto its generation-job record) and uses StorageKey plus
// Provider to address the object later.
type ArtifactReference struct {
	ArtifactID  string    `json:"artifact_id"`
	StorageKey  string    `json:"storage_key"`
	Provider    string    `json:"storage_provider"`
	URL         string    `json:"storage_url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrNotFound indicates the requested object does not exist in the backend.
var ErrNotFound = errors.New("object not found")

// ErrPresignUnsupported indicates the backend cannot issue presigned URLs.
var ErrPresignUnsupported = errors.New("presigned URLs not supported by this backend")

// ValidationError indicates the store request was rejected before any
// provider was invoked: disallowed content type or oversized content.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// SecurityError indicates a storage key failed sanitization or resolved
// outside its confinement root. It is raised before any filesystem or
// network mutation.
type SecurityError struct {
	Key    string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security violation for key %q: %s", e.Key, e.Reason)
}

// StorageError indicates a provider-level failure or an unknown provider
// name. Err carries the underlying cause when one exists.
type StorageError struct {
	Provider string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage error: %s %s", e.Provider, e.Op)
	}
	return fmt.Sprintf("storage error: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
