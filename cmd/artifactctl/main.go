package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/mediaforge/artifactstore/common"
	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/metrics"
	"github.com/mediaforge/artifactstore/storage"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Value: "artifactstore.yaml",
		Usage: "path to the storage configuration file",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "artifactctl",
		Usage: "Operate on the artifact store from the command line",
		Commands: []*cli.Command{
			{
				Name:  "store",
				Usage: "Upload a local file as an artifact",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "file", Required: true, Usage: "path of the file to upload"},
					&cli.StringFlag{Name: "artifact-id", Required: true, Usage: "logical artifact identifier"},
					&cli.StringFlag{Name: "artifact-type", Value: "image", Usage: "artifact category used for routing"},
					&cli.StringFlag{Name: "content-type", Usage: "MIME type, inferred from the file extension when empty"},
					&cli.StringFlag{Name: "tenant", Usage: "tenant identifier"},
					&cli.StringFlag{Name: "board", Usage: "board identifier"},
				}, commonFlags...),
				Action: runStore,
			},
			{
				Name:  "url",
				Usage: "Issue a presigned URL for an existing storage key",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "storage key"},
					&cli.StringFlag{Name: "provider", Usage: "provider name, defaults to the configured default"},
					&cli.DurationFlag{Name: "ttl", Usage: "URL validity, defaults to the configured TTL"},
					&cli.BoolFlag{Name: "upload", Usage: "issue an upload descriptor instead of a download URL"},
					&cli.StringFlag{Name: "content-type", Usage: "MIME type for upload descriptors"},
				}, commonFlags...),
				Action: runURL,
			},
			{
				Name:  "delete",
				Usage: "Delete the object under a storage key",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "storage key"},
					&cli.StringFlag{Name: "provider", Usage: "provider name, defaults to the configured default"},
				}, commonFlags...),
				Action: runDelete,
			},
			{
				Name:  "info",
				Usage: "Show object metadata for a storage key",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "storage key"},
					&cli.StringFlag{Name: "provider", Usage: "provider name, defaults to the configured default"},
				}, commonFlags...),
				Action: runInfo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupManager(cCtx *cli.Context) (*storage.Manager, *config.StorageConfig, error) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: "artifactctl",
		Version: common.Version,
	})
	metrics.Init()

	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	providers, err := storage.NewFactory(logger).BuildRegistry(context.Background(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to construct storage providers: %w", err)
	}

	return storage.NewManager(cfg, providers, logger), cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStore(cCtx *cli.Context) error {
	manager, _, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	path := cCtx.String("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	contentType := cCtx.String("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ref, err := manager.StoreArtifact(ctx, storage.StoreRequest{
		ArtifactID:   cCtx.String("artifact-id"),
		ArtifactType: cCtx.String("artifact-type"),
		ContentType:  contentType,
		TenantID:     cCtx.String("tenant"),
		BoardID:      cCtx.String("board"),
		Content:      bytes.NewReader(data),
		Size:         int64(len(data)),
	})
	if err != nil {
		return err
	}
	return printJSON(ref)
}

func providerName(cCtx *cli.Context, cfg *config.StorageConfig) string {
	if name := cCtx.String("provider"); name != "" {
		return name
	}
	return cfg.DefaultProvider
}

func runURL(cCtx *cli.Context) error {
	manager, cfg, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := cCtx.String("key")
	name := providerName(cCtx, cfg)
	ttl := cCtx.Duration("ttl")

	if cCtx.Bool("upload") {
		presigned, err := manager.UploadURL(ctx, key, name, cCtx.String("content-type"), ttl)
		if err != nil {
			return err
		}
		return printJSON(presigned)
	}

	url, err := manager.DownloadURL(ctx, key, name, ttl)
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func runDelete(cCtx *cli.Context) error {
	manager, cfg, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := manager.DeleteArtifact(ctx, cCtx.String("key"), providerName(cCtx, cfg))
	if err != nil {
		return err
	}
	if !removed {
		fmt.Println("not found")
		return nil
	}
	fmt.Println("deleted")
	return nil
}

func runInfo(cCtx *cli.Context) error {
	manager, cfg, err := setupManager(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := manager.ObjectMetadata(ctx, cCtx.String("key"), providerName(cCtx, cfg))
	if err != nil {
		return err
	}
	return printJSON(info)
}
