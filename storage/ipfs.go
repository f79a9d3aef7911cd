package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// ipfsRoot is the MFS directory all artifacts live under.
const ipfsRoot = "/artifacts"

// IPFSProvider stores artifacts in an IPFS node's mutable file system,
// which gives the key-addressed semantics the rest of the system expects
// on top of content addressing. Downloads resolve through the node;
// public URLs go through a configured HTTP gateway.
type IPFSProvider struct {
	name       string
	shell      *shell.Shell
	gatewayURL string
	log        *slog.Logger
}

var _ interfaces.Provider = (*IPFSProvider)(nil)

// NewIPFSProvider creates an IPFS provider connected to the node API at
// host:port.
func NewIPFSProvider(name string, cfg config.ProviderConfig, log *slog.Logger) (*IPFSProvider, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ipfs provider %q: host is required", name)
	}
	port := cfg.Port
	if port == "" {
		port = "5001"
	}

	return &IPFSProvider{
		name:       name,
		shell:      shell.NewShell(fmt.Sprintf("%s:%s", cfg.Host, port)),
		gatewayURL: strings.TrimSuffix(cfg.GatewayURL, "/"),
		log:        log,
	}, nil
}

// mfsPath joins the key onto the MFS root. MFS paths have directory
// semantics, so the key is re-validated here: a traversal key must never
// reach the node API.
func (p *IPFSProvider) mfsPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return ipfsRoot + "/" + key, nil
}

func (p *IPFSProvider) wrap(op string, err error) error {
	if isIPFSNotFound(err) {
		return &interfaces.StorageError{Provider: p.name, Op: op, Err: interfaces.ErrNotFound}
	}
	return &interfaces.StorageError{Provider: p.name, Op: op, Err: err}
}

func isIPFSNotFound(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "does not exist") ||
		strings.Contains(err.Error(), "no link named"))
}

// Upload writes content into MFS, creating parent directories.
func (p *IPFSProvider) Upload(ctx context.Context, key string, content io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	path, err := p.mfsPath(key)
	if err != nil {
		return "", err
	}

	err = p.shell.FilesWrite(ctx, path, content,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return "", p.wrap("upload", err)
	}

	stat, err := p.shell.FilesStat(ctx, path)
	if err != nil {
		return "", p.wrap("upload", err)
	}

	p.log.Debug("Stored artifact in IPFS",
		slog.String("path", path),
		slog.String("cid", stat.Hash))

	if p.gatewayURL != "" {
		return fmt.Sprintf("%s/ipfs/%s", p.gatewayURL, stat.Hash), nil
	}
	return "ipfs://" + stat.Hash, nil
}

// Download reads the full content from MFS.
func (p *IPFSProvider) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := p.mfsPath(key)
	if err != nil {
		return nil, err
	}
	r, err := p.shell.FilesRead(ctx, path)
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

// PresignUpload is unsupported: IPFS has no signing mechanism and the
// node API must not be exposed to clients.
func (p *IPFSProvider) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (*interfaces.PresignedUpload, error) {
	return nil, &interfaces.StorageError{Provider: p.name, Op: "presign_upload", Err: interfaces.ErrPresignUnsupported}
}

// PresignDownload returns a gateway URL for the object's CID. Gateway
// URLs do not expire; the TTL only sets caller expectations.
func (p *IPFSProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if p.gatewayURL == "" {
		return "", &interfaces.StorageError{Provider: p.name, Op: "presign_download", Err: interfaces.ErrPresignUnsupported}
	}
	path, err := p.mfsPath(key)
	if err != nil {
		return "", err
	}
	stat, err := p.shell.FilesStat(ctx, path)
	if err != nil {
		return "", p.wrap("presign_download", err)
	}
	return fmt.Sprintf("%s/ipfs/%s", p.gatewayURL, stat.Hash), nil
}

// Delete removes the object from MFS, reporting whether it existed.
func (p *IPFSProvider) Delete(ctx context.Context, key string) (bool, error) {
	path, err := p.mfsPath(key)
	if err != nil {
		return false, err
	}
	err = p.shell.FilesRm(ctx, path, true)
	if err != nil {
		if isIPFSNotFound(err) {
			return false, nil
		}
		return false, p.wrap("delete", err)
	}
	return true, nil
}

// Exists stats the MFS path; absence is not an error.
func (p *IPFSProvider) Exists(ctx context.Context, key string) (bool, error) {
	path, err := p.mfsPath(key)
	if err != nil {
		return false, err
	}
	_, err = p.shell.FilesStat(ctx, path)
	if err != nil {
		if isIPFSNotFound(err) {
			return false, nil
		}
		return false, p.wrap("exists", err)
	}
	return true, nil
}

// Metadata stats the MFS path. IPFS does not record content types.
func (p *IPFSProvider) Metadata(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	path, err := p.mfsPath(key)
	if err != nil {
		return nil, err
	}
	stat, err := p.shell.FilesStat(ctx, path)
	if err != nil {
		return nil, p.wrap("metadata", err)
	}
	return &interfaces.ObjectInfo{
		Size:   int64(stat.Size),
		Custom: map[string]string{"cid": stat.Hash},
	}, nil
}

// Name returns the configured provider name.
func (p *IPFSProvider) Name() string {
	return p.name
}

// Kind returns interfaces.KindIPFS.
func (p *IPFSProvider) Kind() interfaces.ProviderKind {
	return interfaces.KindIPFS
}
