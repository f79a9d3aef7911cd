// Package config loads the declarative storage configuration: default
// provider, per-provider settings, ordered routing rules and upload
// limits. Configuration is assembled once at startup from a YAML file
// with an ARTIFACTSTORE_ environment overlay and is immutable afterward;
// the storage manager only ever reads it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// ARTIFACTSTORE_DEFAULT_PROVIDER overrides the default_provider key.
const EnvPrefix = "ARTIFACTSTORE"

// ProviderConfig holds the settings for one configured backend. Which
// fields apply depends on Type ("local", "s3", "gcs", "supabase", "ipfs").
type ProviderConfig struct {
	Type string `mapstructure:"type"`

	// Local filesystem.
	BasePath       string `mapstructure:"base_path"`
	PublicURLBase  string `mapstructure:"public_url_base"`
	UploadEndpoint string `mapstructure:"upload_endpoint"`
	StrictMetadata bool   `mapstructure:"strict_metadata"`

	// S3 and compatible services.
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	CDNDomain      string `mapstructure:"cdn_domain"`

	// Google Cloud Storage.
	CredentialsFile string `mapstructure:"credentials_file"`

	// Supabase Storage.
	ProjectURL string `mapstructure:"project_url"`
	ServiceKey string `mapstructure:"service_key"`

	// IPFS.
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	GatewayURL string `mapstructure:"gateway_url"`
}

// RuleCondition is the optional condition of a routing rule. A zero
// ArtifactType matches any type; a zero SizeGreaterThan disables the size
// check. A size condition never matches content of unknown length.
type RuleCondition struct {
	ArtifactType    string
	SizeGreaterThan int64
}

// RoutingRule routes matching artifacts to a named provider. Rules are
// evaluated in order; the first match wins. A rule without a condition
// matches everything.
type RoutingRule struct {
	Condition *RuleCondition
	Provider  string
}

// StorageConfig is the resolved, immutable runtime configuration shared
// read-only by the storage manager.
type StorageConfig struct {
	DefaultProvider     string
	Providers           map[string]ProviderConfig
	RoutingRules        []RoutingRule
	MaxFileSize         int64
	AllowedContentTypes map[string]struct{}

	UploadMaxRetries int
	UploadRetryBase  time.Duration
	UploadTimeout    time.Duration
	PresignTTL       time.Duration
}

// ContentTypeAllowed reports whether contentType passed the allowlist.
func (c *StorageConfig) ContentTypeAllowed(contentType string) bool {
	_, ok := c.AllowedContentTypes[contentType]
	return ok
}

// fileConfig mirrors the on-disk YAML shape before resolution. Sizes are
// human-readable strings ("100MB") and are parsed during Build.
type fileConfig struct {
	DefaultProvider     string                    `mapstructure:"default_provider"`
	Providers           map[string]ProviderConfig `mapstructure:"providers"`
	RoutingRules        []fileRule                `mapstructure:"routing_rules"`
	MaxFileSize         string                    `mapstructure:"max_file_size"`
	AllowedContentTypes []string                  `mapstructure:"allowed_content_types"`
	Upload              fileUpload                `mapstructure:"upload"`
}

type fileRule struct {
	Condition *fileCondition `mapstructure:"condition"`
	Provider  string         `mapstructure:"provider"`
}

type fileCondition struct {
	ArtifactType string `mapstructure:"artifact_type"`
	SizeGt       string `mapstructure:"size_gt"`
}

type fileUpload struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// Load reads the YAML file at path, applies the environment overlay and
// returns the resolved configuration. Environment variables use the
// ARTIFACTSTORE_ prefix with dots replaced by underscores and take
// precedence over file values.
func Load(path string) (*StorageConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default_provider", "local")
	v.SetDefault("max_file_size", "1GB")
	v.SetDefault("upload.max_retries", 3)
	v.SetDefault("upload.retry_base", time.Second)
	v.SetDefault("upload.timeout", 30*time.Second)
	v.SetDefault("upload.presign_ttl", 15*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return raw.build()
}

// build resolves the raw file shape into an immutable StorageConfig,
// parsing sizes and validating provider references.
func (raw fileConfig) build() (*StorageConfig, error) {
	if len(raw.Providers) == 0 {
		return nil, fmt.Errorf("no storage providers configured")
	}
	if _, ok := raw.Providers[raw.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", raw.DefaultProvider)
	}

	maxSize, err := ParseSize(raw.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max_file_size: %w", err)
	}

	rules := make([]RoutingRule, 0, len(raw.RoutingRules))
	for i, fr := range raw.RoutingRules {
		if _, ok := raw.Providers[fr.Provider]; !ok {
			return nil, fmt.Errorf("routing rule %d targets unknown provider %q", i, fr.Provider)
		}
		rule := RoutingRule{Provider: fr.Provider}
		if fr.Condition != nil {
			cond := &RuleCondition{ArtifactType: fr.Condition.ArtifactType}
			if fr.Condition.SizeGt != "" {
				sz, err := ParseSize(fr.Condition.SizeGt)
				if err != nil {
					return nil, fmt.Errorf("routing rule %d has invalid size_gt: %w", i, err)
				}
				cond.SizeGreaterThan = sz
			}
			rule.Condition = cond
		}
		rules = append(rules, rule)
	}

	allowed := make(map[string]struct{}, len(raw.AllowedContentTypes))
	for _, ct := range raw.AllowedContentTypes {
		allowed[ct] = struct{}{}
	}

	cfg := &StorageConfig{
		DefaultProvider:     raw.DefaultProvider,
		Providers:           raw.Providers,
		RoutingRules:        rules,
		MaxFileSize:         maxSize,
		AllowedContentTypes: allowed,
		UploadMaxRetries:    raw.Upload.MaxRetries,
		UploadRetryBase:     raw.Upload.RetryBase,
		UploadTimeout:       raw.Upload.Timeout,
		PresignTTL:          raw.Upload.PresignTTL,
	}
	if cfg.UploadMaxRetries <= 0 {
		cfg.UploadMaxRetries = 3
	}
	if cfg.UploadRetryBase <= 0 {
		cfg.UploadRetryBase = time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}

	return cfg, nil
}

// ParseSize parses a human-readable byte size such as "100MB" or "1.5GiB".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
