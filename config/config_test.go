package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
default_provider: local
max_file_size: 500MB
allowed_content_types:
  - image/png
  - video/mp4
providers:
  local:
    type: local
    base_path: /var/lib/artifactstore
    public_url_base: http://localhost:8080/artifacts
  s3:
    type: s3
    bucket: artifacts
    region: us-east-1
routing_rules:
  - condition:
      artifact_type: video
      size_gt: 100MB
    provider: s3
  - provider: local
upload:
  max_retries: 5
  retry_base: 500ms
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.DefaultProvider)
	assert.Equal(t, int64(500_000_000), cfg.MaxFileSize)
	assert.True(t, cfg.ContentTypeAllowed("image/png"))
	assert.False(t, cfg.ContentTypeAllowed("application/x-msdownload"))

	require.Len(t, cfg.RoutingRules, 2)
	require.NotNil(t, cfg.RoutingRules[0].Condition)
	assert.Equal(t, "video", cfg.RoutingRules[0].Condition.ArtifactType)
	assert.Equal(t, int64(100_000_000), cfg.RoutingRules[0].Condition.SizeGreaterThan)
	assert.Equal(t, "s3", cfg.RoutingRules[0].Provider)
	assert.Nil(t, cfg.RoutingRules[1].Condition)
	assert.Equal(t, "local", cfg.RoutingRules[1].Provider)

	assert.Equal(t, 5, cfg.UploadMaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.UploadRetryBase)
	// Unset values fall back to defaults.
	assert.Equal(t, 30*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 15*time.Minute, cfg.PresignTTL)

	assert.Equal(t, "local", cfg.Providers["local"].Type)
	assert.Equal(t, "/var/lib/artifactstore", cfg.Providers["local"].BasePath)
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("ARTIFACTSTORE_DEFAULT_PROVIDER", "s3")

	cfg, err := Load(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.DefaultProvider)
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `
default_provider: missing
providers:
  local:
    type: local
    base_path: /tmp/store
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default provider")
}

func TestLoadRejectsRuleWithUnknownProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `
default_provider: local
providers:
  local:
    type: local
    base_path: /tmp/store
routing_rules:
  - provider: nope
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestLoadRejectsBadSize(t *testing.T) {
	_, err := Load(writeConfig(t, `
default_provider: local
max_file_size: lots
providers:
  local:
    type: local
    base_path: /tmp/store
`))
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100MB", 100_000_000},
		{"1GB", 1_000_000_000},
		{"512", 512},
		{"10MiB", 10 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSize("not-a-size")
	assert.Error(t, err)
}
