package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// SupabaseProvider stores artifacts in Supabase Storage through its REST
// API. Authentication uses the project service key as a bearer token.
type SupabaseProvider struct {
	name       string
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
	log        *slog.Logger
}

var _ interfaces.Provider = (*SupabaseProvider)(nil)

// NewSupabaseProvider creates a Supabase Storage provider from
// configuration. ProjectURL is the project root, e.g.
// https://abc.supabase.co; the storage API lives under /storage/v1.
func NewSupabaseProvider(name string, cfg config.ProviderConfig, log *slog.Logger) (*SupabaseProvider, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("supabase provider %q: project_url is required", name)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase provider %q: bucket is required", name)
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase provider %q: service_key is required", name)
	}

	return &SupabaseProvider{
		name:       name,
		baseURL:    strings.TrimSuffix(cfg.ProjectURL, "/") + "/storage/v1",
		bucket:     cfg.Bucket,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}, nil
}

func (p *SupabaseProvider) objectURL(route, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.baseURL, route, p.bucket, escapeKey(key))
}

func (p *SupabaseProvider) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	return req, nil
}

func (p *SupabaseProvider) wrap(op string, err error) error {
	return &interfaces.StorageError{Provider: p.name, Op: op, Err: err}
}

func (p *SupabaseProvider) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusNotFound {
		return &interfaces.StorageError{Provider: p.name, Op: op, Err: interfaces.ErrNotFound}
	}
	return &interfaces.StorageError{
		Provider: p.name,
		Op:       op,
		Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}

// Upload sends the content with upsert semantics so re-uploads under the
// same key overwrite.
func (p *SupabaseProvider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	req, err := p.newRequest(ctx, http.MethodPost, p.objectURL("object", key), content)
	if err != nil {
		return "", p.wrap("upload", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	if size >= 0 {
		req.ContentLength = size
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", p.wrap("upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", p.statusError("upload", resp)
	}

	p.log.Debug("Stored artifact in Supabase",
		slog.String("bucket", p.bucket),
		slog.String("key", key))

	return p.objectURL("object/public", key), nil
}

// Download retrieves the full object content.
func (p *SupabaseProvider) Download(ctx context.Context, key string) ([]byte, error) {
	req, err := p.newRequest(ctx, http.MethodGet, p.objectURL("object", key), nil)
	if err != nil {
		return nil, p.wrap("download", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError("download", resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return data, nil
}

// PresignUpload requests a signed upload URL from the storage API.
func (p *SupabaseProvider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	req, err := p.newRequest(ctx, http.MethodPost, p.objectURL("object/upload/sign", key), nil)
	if err != nil {
		return nil, p.wrap("presign_upload", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.wrap("presign_upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError("presign_upload", resp)
	}

	var signed struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return nil, p.wrap("presign_upload", err)
	}

	return &interfaces.PresignedUpload{
		Method:    "PUT",
		URL:       p.baseURL + signed.URL,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// PresignDownload requests a signed download URL from the storage API.
func (p *SupabaseProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(map[string]int64{"expiresIn": int64(ttl.Seconds())})
	if err != nil {
		return "", p.wrap("presign_download", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, p.objectURL("object/sign", key), bytes.NewReader(payload))
	if err != nil {
		return "", p.wrap("presign_download", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", p.wrap("presign_download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", p.statusError("presign_download", resp)
	}

	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", p.wrap("presign_download", err)
	}
	return p.baseURL + signed.SignedURL, nil
}

// Delete removes the object, reporting whether it existed.
func (p *SupabaseProvider) Delete(ctx context.Context, key string) (bool, error) {
	req, err := p.newRequest(ctx, http.MethodDelete, p.objectURL("object", key), nil)
	if err != nil {
		return false, p.wrap("delete", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, p.wrap("delete", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, p.statusError("delete", resp)
	}
}

// Exists queries object info; a 404 is reported as absence.
func (p *SupabaseProvider) Exists(ctx context.Context, key string) (bool, error) {
	req, err := p.newRequest(ctx, http.MethodGet, p.objectURL("object/info", key), nil)
	if err != nil {
		return false, p.wrap("exists", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, p.wrap("exists", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, p.statusError("exists", resp)
	}
}

// Metadata queries and converts object info.
func (p *SupabaseProvider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	req, err := p.newRequest(ctx, http.MethodGet, p.objectURL("object/info", key), nil)
	if err != nil {
		return nil, p.wrap("metadata", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.wrap("metadata", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError("metadata", resp)
	}

	var info struct {
		Size         int64  `json:"size"`
		ContentType  string `json:"contentType"`
		LastModified string `json:"lastModified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, p.wrap("metadata", err)
	}

	result := &interfaces.ObjectInfo{
		Size:        info.Size,
		ContentType: info.ContentType,
	}
	if info.LastModified != "" {
		if t, err := time.Parse(time.RFC3339, info.LastModified); err == nil {
			result.ModTime = t
		}
	}
	return result, nil
}

// Name returns the configured provider name.
func (p *SupabaseProvider) Name() string {
	return p.name
}

// Kind returns interfaces.KindSupabase.
func (p *SupabaseProvider) Kind() interfaces.ProviderKind {
	return interfaces.KindSupabase
}
