package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
	"github.com/mediaforge/artifactstore/storage"
)

func newTestProvider(t *testing.T) *storage.LocalProvider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := storage.NewLocalProvider("local", config.ProviderConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, handler *Handler) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)
	return srv
}

// keyRequest builds a request with the chi wildcard parameter populated,
// so handlers can be exercised without going through the router.
func keyRequest(method, key string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, "/"+key, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("*", key)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestServeArtifact(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Upload(context.Background(), "acme/image/a/original.png",
		strings.NewReader("png-bytes"), 9, "image/png", nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := newTestServer(t, NewHandler(p, 0, logger))

	req := httptest.NewRequest(http.MethodGet, "/artifacts/acme/image/a/original.png", nil)
	rec := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="original.png"`, rec.Header().Get("Content-Disposition"))
}

func TestServeArtifactNotFound(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(p, 0, logger)

	rec := httptest.NewRecorder()
	h.HandleServeArtifact(rec, keyRequest(http.MethodGet, "missing/key", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeArtifactRejectsTraversal(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(p, 0, logger)

	rec := httptest.NewRecorder()
	h.HandleServeArtifact(rec, keyRequest(http.MethodGet, "../../etc/passwd", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectUpload(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(p, 0, logger)

	req := keyRequest(http.MethodPut, "acme/image/a/original", strings.NewReader("uploaded"))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	h.HandleDirectUpload(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"key":"acme/image/a/original"`)

	data, err := p.Download(context.Background(), "acme/image/a/original")
	require.NoError(t, err)
	assert.Equal(t, "uploaded", string(data))

	info, err := p.Metadata(context.Background(), "acme/image/a/original")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", info.ContentType)
}

func TestDirectUploadRejectsTraversal(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(p, 0, logger)

	rec := httptest.NewRecorder()
	h.HandleDirectUpload(rec, keyRequest(http.MethodPut, "../../etc/shadow", strings.NewReader("x")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectUploadTooLarge(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(p, 8, logger)

	body := strings.NewReader("way more than eight bytes")
	req := keyRequest(http.MethodPut, "acme/image/a/original", body)
	req.ContentLength = body.Size()
	rec := httptest.NewRecorder()
	h.HandleDirectUpload(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// ctxSensitiveFS fails metadata lookups once the request context is
// done, the way a remote-backed provider would.
type ctxSensitiveFS struct {
	*storage.LocalProvider
}

func (f *ctxSensitiveFS) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.LocalProvider.Metadata(ctx, key)
}

// A metadata lookup is shared across coalesced requests, so a client
// that disconnects right after initiating it must not poison the
// result for everyone else.
func TestObjectInfoSurvivesRequestCancellation(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Upload(context.Background(), "acme/image/a/original",
		strings.NewReader("x"), 1, "image/webp", nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(&ctxSensitiveFS{p}, 0, logger)

	req := keyRequest(http.MethodGet, "acme/image/a/original", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	info, err := h.objectInfo(req.WithContext(ctx), "acme/image/a/original")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", info.ContentType)
}

func TestHealthAndDrain(t *testing.T) {
	p := newTestProvider(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := newTestServer(t, NewHandler(p, 0, logger))
	router := srv.getRouter()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	assert.Equal(t, http.StatusOK, get("/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	assert.Equal(t, http.StatusOK, get("/undrain").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
}
