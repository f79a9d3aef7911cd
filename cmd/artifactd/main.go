package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/mediaforge/artifactstore/common"
	"github.com/mediaforge/artifactstore/config"
	"github.com/mediaforge/artifactstore/httpserver"
	"github.com/mediaforge/artifactstore/interfaces"
	"github.com/mediaforge/artifactstore/metrics"
	"github.com/mediaforge/artifactstore/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Value: "artifactstore.yaml",
		Usage: "path to the storage configuration file",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
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
	&cli.StringFlag{
		Name:  "log-service",
		Value: "artifactd",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "artifactd",
		Usage: "Serve stored artifacts and accept direct uploads",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			configPath := cCtx.String("config")
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			metrics.Init()

			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("Failed to load configuration", "path", configPath, "err", err)
				return err
			}

			factory := storage.NewFactory(logger)
			providers, err := factory.BuildRegistry(context.Background(), cfg)
			if err != nil {
				logger.Error("Failed to construct storage providers", "err", err)
				return err
			}
			var handler *httpserver.Handler
			if name, fs := servingProvider(cfg.DefaultProvider, providers); fs != nil {
				logger.Info("Serving artifacts from filesystem provider", "provider", name)
				handler = httpserver.NewHandler(fs, cfg.MaxFileSize, logger)
			} else {
				logger.Info("No filesystem provider configured, file serving disabled")
			}

			srv, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// servingProvider picks the backend the file-serving endpoints read
// from: the default provider when it has direct filesystem access,
// otherwise the first capable provider in name order. The order is
// fixed so the served backend does not change across restarts.
func servingProvider(defaultName string, providers map[string]interfaces.Provider) (string, interfaces.FilesystemProvider) {
	names := make([]string, 0, len(providers))
	for name := range providers {
		if name != defaultName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := providers[defaultName]; ok {
		names = append([]string{defaultName}, names...)
	}

	for _, name := range names {
		p := providers[name]
		if !p.Kind().DirectFilesystemAccess() {
			continue
		}
		if fs, ok := p.(interfaces.FilesystemProvider); ok {
			return name, fs
		}
	}
	return "", nil
}
