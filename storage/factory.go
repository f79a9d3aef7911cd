package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/interfaces"
)

// Factory constructs storage providers from declarative configuration.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a provider factory.
func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log}
}

// ProviderFor builds a single provider from its configuration entry.
func (f *Factory) ProviderFor(ctx context.Context, name string, cfg config.ProviderConfig) (interfaces.Provider, error) {
	log := f.log.With(slog.String("provider", name))

	switch cfg.Type {
	case "local":
		return NewLocalProvider(name, cfg, log)
	case "s3":
		return NewS3Provider(name, cfg, log)
	case "gcs":
		return NewGCSProvider(ctx, name, cfg, log)
	case "supabase":
		return NewSupabaseProvider(name, cfg, log)
	case "ipfs":
		return NewIPFSProvider(name, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// BuildRegistry constructs every configured provider. Construction is
// all-or-nothing: a single misconfigured backend fails startup rather
// than silently shrinking the registry.
func (f *Factory) BuildRegistry(ctx context.Context, cfg *config.StorageConfig) (map[string]interfaces.Provider, error) {
	providers := make(map[string]interfaces.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p, err := f.ProviderFor(ctx, name, pc)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
		}
		f.log.Info("Initialized storage provider",
			slog.String("name", name),
			slog.String("kind", p.Kind().String()))
		providers[name] = p
	}
	return providers, nil
}
