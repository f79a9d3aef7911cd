package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// S3Provider stores artifacts in Amazon S3 or a compatible service. All
// vendor errors are mapped to the package error taxonomy at this
// boundary so callers never depend on AWS error types.
type S3Provider struct {
	name      string
	client    *s3.S3
	uploader  *s3manager.Uploader
	bucket    string
	prefix    string
	region    string
	endpoint  string
	cdnDomain string
	log       *slog.Logger
}

var _ interfaces.Provider = (*S3Provider)(nil)

// NewS3Provider creates an S3 storage provider from configuration.
// Static credentials are optional; without them the default AWS
// credential chain applies.
func NewS3Provider(name string, cfg config.ProviderConfig, log *slog.Logger) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 provider %q: bucket is required", name)
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	return &S3Provider{
		name:      name,
		client:    client,
		uploader:  s3manager.NewUploaderWithClient(client),
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		region:    cfg.Region,
		endpoint:  cfg.Endpoint,
		cdnDomain: cfg.CDNDomain,
		log:       log,
	}, nil
}

// objectKey applies the configured prefix to a storage key.
func (p *S3Provider) objectKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

// isNotFoundErr reports whether an AWS error indicates a missing object.
func isNotFoundErr(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return reqErr.StatusCode() == http.StatusNotFound
	}
	return false
}

func (p *S3Provider) wrap(op string, err error) error {
	if isNotFoundErr(err) {
		return &interfaces.StorageError{Provider: p.name, Op: op, Err: interfaces.ErrNotFound}
	}
	return &interfaces.StorageError{Provider: p.name, Op: op, Err: err}
}

// Upload streams content to S3. The upload manager handles multipart
// uploads for large or unbounded streams, so size is advisory here.
func (p *S3Provider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	objKey := p.objectKey(key)

	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}

	start := time.Now()
	_, err := p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objKey),
		Body:        content,
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", p.wrap("upload", err)
	}

	p.log.Debug("Stored artifact in S3",
		slog.String("bucket", p.bucket),
		slog.String("key", objKey),
		slog.Duration("duration", time.Since(start)))

	return p.publicURL(objKey), nil
}

// publicURL builds the object's public URL, rewritten to the CDN domain
// when one is configured.
func (p *S3Provider) publicURL(objKey string) string {
	if p.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", p.cdnDomain, escapeKey(objKey))
	}
	if p.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(p.endpoint, "/"), p.bucket, escapeKey(objKey))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, escapeKey(objKey))
}

// Download retrieves the full object content.
func (p *S3Provider) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return nil, p.wrap("download", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return data, nil
}

// PresignUpload issues a native S3 presigned PUT URL.
func (p *S3Provider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	req, _ := p.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.objectKey(key)),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)

	url, err := req.Presign(ttl)
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

// PresignDownload issues a native S3 presigned GET URL.
func (p *S3Provider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, _ := p.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	req.SetContext(ctx)

	url, err := req.Presign(ttl)
	if err != nil {
		return "", p.wrap("presign_download", err)
	}
	return url, nil
}

// Delete removes the object, reporting whether it existed. S3 deletes
// are idempotent, so existence is checked first.
func (p *S3Provider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := p.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	_, err = p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return false, p.wrap("delete", err)
	}
	return true, nil
}

// Exists heads the object; a 404 is reported as absence, not an error.
func (p *S3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, p.wrap("exists", err)
	}
	return true, nil
}

// Metadata heads the object and converts the response.
func (p *S3Provider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	result, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return nil, p.wrap("metadata", err)
	}

	info := &interfaces.ObjectInfo{
		Size:        aws.Int64Value(result.ContentLength),
		ContentType: aws.StringValue(result.ContentType),
	}
	if result.LastModified != nil {
		info.ModTime = *result.LastModified
	}
	if len(result.Metadata) > 0 {
		info.Custom = make(map[string]string, len(result.Metadata))
		for k, v := range result.Metadata {
			info.Custom[strings.ToLower(k)] = aws.StringValue(v)
		}
	}
	return info, nil
}

// Name returns the configured provider name.
func (p *S3Provider) Name() string {
	return p.name
}

// Kind returns interfaces.KindS3.
func (p *S3Provider) Kind() interfaces.ProviderKind {
	return interfaces.KindS3
}
