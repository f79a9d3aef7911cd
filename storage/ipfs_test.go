package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

func newTestIPFS(t *testing.T) *IPFSProvider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewIPFSProvider("ipfs", config.ProviderConfig{
		Host:       "127.0.0.1",
		GatewayURL: "https://gateway.test",
	}, logger)
	require.NoError(t, err)
	return p
}

func TestIPFSRequiresHost(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewIPFSProvider("ipfs", config.ProviderConfig{}, logger)
	require.Error(t, err)
}

// MFS paths have directory semantics, so a traversal key must be
// rejected before any call reaches the node API. No node is running
// here: a request that slipped past validation would fail on the
// connection instead of returning a SecurityError.
func TestIPFSRejectsTraversalKeys(t *testing.T) {
	p := newTestIPFS(t)
	ctx := context.Background()
	const evil = "../../etc/passwd"

	var secErr *interfaces.SecurityError

	_, err := p.Upload(ctx, evil, strings.NewReader("x"), 1, "text/plain", nil)
	require.ErrorAs(t, err, &secErr)

	_, err = p.Download(ctx, evil)
	require.ErrorAs(t, err, &secErr)

	_, err = p.Delete(ctx, evil)
	require.ErrorAs(t, err, &secErr)

	_, err = p.Exists(ctx, evil)
	require.ErrorAs(t, err, &secErr)

	_, err = p.Metadata(ctx, evil)
	require.ErrorAs(t, err, &secErr)

	_, err = p.PresignDownload(ctx, evil, time.Minute)
	require.ErrorAs(t, err, &secErr)
}
