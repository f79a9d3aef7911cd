package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mediaforge/artifactstore/interfaces"
	"github.com/mediaforge/artifactstore/metrics"
	"github.com/mediaforge/artifactstore/storage"
)

const (
	rateLimitPerSecond = 20
	rateLimitBurst     = 40

	defaultMaxUploadBytes = 1 << 30
)

// Handler serves artifacts stored by a filesystem-backed provider and
// accepts direct PUT uploads, the target of that provider's degenerate
// presigned-upload descriptors. Remote backends never pass through here;
// their clients follow real presigned URLs.
type Handler struct {
	fs             interfaces.FilesystemProvider
	log            *slog.Logger
	maxUploadBytes int64

	limiters  *expirable.LRU[string, *rate.Limiter]
	metaCache *expirable.LRU[string, *interfaces.ObjectInfo]
	metaGroup singleflight.Group
}

// NewHandler creates a handler over a provider with direct filesystem
// access. maxUploadBytes caps direct uploads; zero applies the default.
func NewHandler(fs interfaces.FilesystemProvider, maxUploadBytes int64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		fs:             fs,
		log:            log,
		maxUploadBytes: maxUploadBytes,
		limiters:       expirable.NewLRU[string, *rate.Limiter](10000, nil, time.Hour),
		metaCache:      expirable.NewLRU[string, *interfaces.ObjectInfo](4096, nil, time.Minute),
	}
}

// clientIP extracts the caller address, preferring the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) allow(ip string) bool {
	limiter, ok := h.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
		h.limiters.Add(ip, limiter)
	}
	return limiter.Allow()
}

// objectInfo returns sidecar-backed metadata for key, deduplicating
// concurrent lookups for the same key and caching the result briefly.
func (h *Handler) objectInfo(r *http.Request, key string) (*interfaces.ObjectInfo, error) {
	if info, ok := h.metaCache.Get(key); ok {
		return info, nil
	}

	v, err, _ := h.metaGroup.Do(key, func() (interface{}, error) {
		// The result is shared by every coalesced request, so the lookup
		// must not die with whichever request happened to start it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()

		info, err := h.fs.Metadata(ctx, key)
		if err != nil {
			return nil, err
		}
		h.metaCache.Add(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*interfaces.ObjectInfo), nil
}

// HandleServeArtifact streams a stored object. The storage key is the
// full wildcard path; containment is re-checked on every request so a
// crafted path can never reach outside the base directory.
func (h *Handler) HandleServeArtifact(w http.ResponseWriter, r *http.Request) {
	if !h.allow(clientIP(r)) {
		metrics.ServeRequestsTotal.WithLabelValues("rate_limited").Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	key := chi.URLParam(r, "*")
	resolved, err := h.fs.ResolvePath(key)
	if err != nil {
		var secErr *interfaces.SecurityError
		if errors.As(err, &secErr) {
			metrics.SecurityRejectionsTotal.Inc()
			metrics.ServeRequestsTotal.WithLabelValues("rejected").Inc()
			h.log.Warn("Rejected unsafe artifact path", slog.String("key", key), "err", err)
			http.Error(w, "invalid artifact path", http.StatusBadRequest)
			return
		}
		metrics.ServeRequestsTotal.WithLabelValues("error").Inc()
		http.Error(w, "failed to resolve artifact", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ServeRequestsTotal.WithLabelValues("not_found").Inc()
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		metrics.ServeRequestsTotal.WithLabelValues("error").Inc()
		h.log.Error("Failed to open artifact", slog.String("key", key), "err", err)
		http.Error(w, "failed to read artifact", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		metrics.ServeRequestsTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}

	filename := path.Base(key)
	contentType := ""
	if info, err := h.objectInfo(r, key); err == nil {
		contentType = info.ContentType
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(filename))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))

	metrics.ServeRequestsTotal.WithLabelValues("ok").Inc()
	http.ServeContent(w, r, filename, stat.ModTime(), f)
}

// HandleDirectUpload accepts the PUT a client performs against a
// locally-issued presigned-upload descriptor. The body is capped and
// written through the provider so sanitization, atomic writes and
// sidecar metadata apply exactly as for server-side uploads.
func (h *Handler) HandleDirectUpload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	key := chi.URLParam(r, "*")
	size := storage.SizeUnknown
	if r.ContentLength >= 0 {
		size = r.ContentLength
	}
	if size > h.maxUploadBytes {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := r.Header.Get("Content-Type")
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	url, err := h.fs.Upload(r.Context(), key, body, size, contentType, nil)
	if err != nil {
		var secErr *interfaces.SecurityError
		if errors.As(err, &secErr) {
			metrics.SecurityRejectionsTotal.Inc()
			h.log.Warn("Rejected unsafe upload path", slog.String("key", key), "err", err)
			http.Error(w, "invalid upload path", http.StatusBadRequest)
			return
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Error("Direct upload failed", slog.String("key", key), "err", err)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	// A re-upload under the same key invalidates cached metadata.
	h.metaCache.Remove(key)

	h.log.Info("Stored direct upload",
		slog.String("key", key),
		slog.Int64("size", r.ContentLength),
		slog.String("content_type", contentType))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"key":%s,"url":%s}`, strconv.Quote(key), strconv.Quote(url))
}
