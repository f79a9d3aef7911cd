package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// GCSProvider stores artifacts in Google Cloud Storage. Vendor errors
// are mapped to the package error taxonomy at this boundary.
type GCSProvider struct {
	name      string
	client    *gcs.Client
	bucket    *gcs.BucketHandle
	bucketID  string
	prefix    string
	cdnDomain string
	log       *slog.Logger
}

var _ interfaces.Provider = (*GCSProvider)(nil)

// NewGCSProvider creates a Google Cloud Storage provider. Without an
// explicit credentials file the default application credentials apply.
func NewGCSProvider(ctx context.Context, name string, cfg config.ProviderConfig, log *slog.Logger) (*GCSProvider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs provider %q: bucket is required", name)
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSProvider{
		name:      name,
		client:    client,
		bucket:    client.Bucket(cfg.Bucket),
		bucketID:  cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		cdnDomain: cfg.CDNDomain,
		log:       log,
	}, nil
}

func (p *GCSProvider) objectKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *GCSProvider) wrap(op string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return &interfaces.StorageError{Provider: p.name, Op: op, Err: interfaces.ErrNotFound}
	}
	return &interfaces.StorageError{Provider: p.name, Op: op, Err: err}
}

// Upload streams content through an object writer.
func (p *GCSProvider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	objKey := p.objectKey(key)

	w := p.bucket.Object(objKey).NewWriter(ctx)
	w.ContentType = contentType
	if len(metadata) > 0 {
		w.Metadata = metadata
	}

	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return "", p.wrap("upload", err)
	}
	if err := w.Close(); err != nil {
		return "", p.wrap("upload", err)
	}

	p.log.Debug("Stored artifact in GCS",
		slog.String("bucket", p.bucketID),
		slog.String("key", objKey))

	return p.publicURL(objKey), nil
}

func (p *GCSProvider) publicURL(objKey string) string {
	if p.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", p.cdnDomain, escapeKey(objKey))
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.bucketID, escapeKey(objKey))
}

// Download retrieves the full object content.
func (p *GCSProvider) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := p.bucket.Object(p.objectKey(key)).NewReader(ctx)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return data, nil
}

// PresignUpload issues a V4 signed PUT URL.
func (p *GCSProvider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	url, err := p.bucket.SignedURL(p.objectKey(key), &gcs.SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
		Scheme:      gcs.SigningSchemeV4,
	})
	if err != nil {
		return nil, p.wrap("presign_upload", err)
	}

	return &interfaces.PresignedUpload{
		Method:    "PUT",
		URL:       url,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// PresignDownload issues a V4 signed GET URL.
func (p *GCSProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := p.bucket.SignedURL(p.objectKey(key), &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", p.wrap("presign_download", err)
	}
	return url, nil
}

// Delete removes the object, reporting whether it existed.
func (p *GCSProvider) Delete(ctx context.Context, key string) (bool, error) {
	err := p.bucket.Object(p.objectKey(key)).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, p.wrap("delete", err)
	}
	return true, nil
}

// Exists checks object attributes; absence is not an error.
func (p *GCSProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.bucket.Object(p.objectKey(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, p.wrap("exists", err)
	}
	return true, nil
}

// Metadata converts object attributes.
func (p *GCSProvider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	attrs, err := p.bucket.Object(p.objectKey(key)).Attrs(ctx)
	if err != nil {
		return nil, p.wrap("metadata", err)
	}
	return &interfaces.ObjectInfo{
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		ContentType: attrs.ContentType,
		Custom:      attrs.Metadata,
	}, nil
}

// Name returns the configured provider name.
func (p *GCSProvider) Name() string {
	return p.name
}

// Kind returns interfaces.KindGCS.
func (p *GCSProvider) Kind() interfaces.ProviderKind {
	return interfaces.KindGCS
}
