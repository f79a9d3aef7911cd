package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/artifactstore/interfaces"
)

// DefaultTenant is used when a store request carries no tenant ID.
const DefaultTenant = "default"

// DefaultVariant names the primary stored rendition of an artifact.
const DefaultVariant = "original"

// keySegmentPattern is the allowlist every path segment must match.
var keySegmentPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// KeyParts carries the inputs to storage key derivation.
type KeyParts struct {
	TenantID     string
	ArtifactType string
	BoardID      string
	ArtifactID   string
	Variant      string
}

// BuildKey derives a hierarchical storage key:
//
//	tenant/artifact_type/[board_id/]artifact_id_<unix-ts>_<suffix>/variant
//
// The timestamp and random suffix make keys from identical inputs
// distinct, so concurrent stores of the same artifact ID never race on a
// single object. The returned key is not yet validated; callers pass it
// through ValidateKey before any filesystem or network mutation.
func BuildKey(parts KeyParts, now time.Time) string {
	tenant := parts.TenantID
	if tenant == "" {
		tenant = DefaultTenant
	}
	variant := parts.Variant
	if variant == "" {
		variant = DefaultVariant
	}

	object := fmt.Sprintf("%s_%d_%s", parts.ArtifactID, now.Unix(), randomSuffix())

	segments := make([]string, 0, 5)
	segments = append(segments, tenant, parts.ArtifactType)
	if parts.BoardID != "" {
		segments = append(segments, parts.BoardID)
	}
	segments = append(segments, object, variant)

	return strings.Join(segments, "/")
}

// randomSuffix returns a short disambiguator for key derivation.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ValidateKey enforces the storage key invariants: no backslashes, no
// leading slash, no ".." anywhere, and every segment restricted to
// [A-Za-z0-9._-]. Any violation is a *interfaces.SecurityError; callers
// must abort before touching a backend.
func ValidateKey(key string) error {
	if key == "" {
		return &interfaces.SecurityError{Key: key, Reason: "empty key"}
	}
	if strings.Contains(key, `\`) {
		return &interfaces.SecurityError{Key: key, Reason: "backslash in key"}
	}
	if strings.HasPrefix(key, "/") {
		return &interfaces.SecurityError{Key: key, Reason: "leading slash"}
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" {
			return &interfaces.SecurityError{Key: key, Reason: "empty path segment"}
		}
		if segment == ".." || strings.Contains(segment, "..") {
			return &interfaces.SecurityError{Key: key, Reason: "parent directory reference"}
		}
		if !keySegmentPattern.MatchString(segment) {
			return &interfaces.SecurityError{Key: key, Reason: fmt.Sprintf("disallowed characters in segment %q", segment)}
		}
	}
	return nil
}
