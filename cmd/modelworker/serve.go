package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apex-x/modelworker/internal/config"
	"github.com/apex-x/modelworker/internal/inference"
	"github.com/apex-x/modelworker/internal/service"
	"github.com/apex-x/modelworker/internal/telemetry"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a model over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := buildLogger(os.Stdout, cfg.Log.Format, cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("configure logger: %w", err)
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "HTTP listen address")
	flags.String("model-name", "", "model name (defaults to the manifest, then the model dir name)")
	flags.String("model-dir", "", "model directory")
	flags.String("model-version", "", "model version (defaults to the manifest)")
	flags.Int("device", inference.NoDevice, "accelerator index, -1 for none")
	flags.Int("batch-size", 8, "maximum requests per batch")
	flags.Duration("batch-window", 8*time.Millisecond, "how long to wait for a batch to fill")
	flags.Int("queue-size", 256, "request queue size")
	flags.Duration("predict-timeout", 0, "per-request predict timeout (0 disables it)")
	flags.String("handler", "echo", "entry point: echo|bridge")
	flags.String("handler-command", "", "bridge command, run once per batch")
	flags.Bool("telemetry", false, "export OpenTelemetry traces and metrics over OTLP")

	for key, name := range map[string]string{
		"server.addr":            "addr",
		"model.name":             "model-name",
		"model.dir":              "model-dir",
		"model.version":          "model-version",
		"model.device":           "device",
		"batch.size":             "batch-size",
		"batch.window":           "batch-window",
		"batch.queue_size":       "queue-size",
		"server.predict_timeout": "predict-timeout",
		"handler.kind":           "handler",
		"handler.command":        "handler-command",
		"telemetry.enabled":      "telemetry",
	} {
		bindFlag(opts.v, key, flags.Lookup(name))
	}
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rc, err := buildRequestContext(cfg, logger)
	if err != nil {
		return err
	}
	adapter, err := buildAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	providers, err := telemetry.Init(cfg.Telemetry, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := providers.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("telemetry_shutdown_failed", "error", shutdownErr.Error())
		}
	}()
	hooks := service.TelemetryHooks(service.NopTelemetryHooks{})
	if providers.Enabled() {
		otelHooks, hooksErr := service.NewOTelTelemetryHooks(providers.MeterProvider(), providers.TracerProvider())
		if hooksErr != nil {
			return fmt.Errorf("create telemetry hooks: %w", hooksErr)
		}
		hooks = otelHooks
	}

	httpService, err := service.NewHTTPService(rc, adapter, service.HTTPServiceConfig{
		BatchWindow:    cfg.Batch.Window,
		QueueSize:      cfg.Batch.QueueSize,
		PredictTimeout: cfg.Server.PredictTimeout,
		Logger:         logger,
		Hooks:          hooks,
	})
	if err != nil {
		return fmt.Errorf("create http service: %w", err)
	}
	defer func() {
		if closeErr := httpService.Close(); closeErr != nil {
			logger.Error("service_shutdown_failed", "error", closeErr.Error())
		}
	}()

	mux := http.NewServeMux()
	httpService.RegisterRoutes(mux)
	handler := service.Chain(mux,
		service.RequestIDMiddleware,
		service.RecoveryMiddleware(logger),
		service.LoggingMiddleware(logger),
	)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info(
			"runtime_server_start",
			"addr", cfg.Server.Addr,
			"model", rc.ModelName(),
			"model_version", rc.ModelVersion(),
			"handler", adapter.Name(),
			"batch_size", rc.BatchSize(),
			"batch_window_ms", cfg.Batch.Window.Milliseconds(),
			"queue_size", cfg.Batch.QueueSize,
			"predict_timeout_ms", cfg.Server.PredictTimeout.Milliseconds(),
			"device", rc.Device(),
		)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", serveErr)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("runtime_server_stop", "addr", cfg.Server.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("http shutdown: %w", shutdownErr)
		}
		return nil
	})
	return group.Wait()
}

// buildRequestContext fills unset model fields from the manifest in the model
// directory when there is one.
func buildRequestContext(cfg config.Config, logger *slog.Logger) (*inference.RequestContext, error) {
	name := strings.TrimSpace(cfg.Model.Name)
	modelVersion := strings.TrimSpace(cfg.Model.Version)
	manifestID := strings.TrimSpace(cfg.Model.Manifest)

	if cfg.Model.Dir != "" {
		manifest, path, err := inference.LoadManifest(cfg.Model.Dir)
		switch {
		case err == nil:
			logger.Info("manifest_loaded", "path", path, "manifest", manifest.Identifier())
			if name == "" {
				name = manifest.Model.Name
			}
			if modelVersion == "" {
				modelVersion = manifest.Model.Version
			}
			if manifestID == "" {
				manifestID = manifest.Identifier()
			}
		case errors.Is(err, inference.ErrManifestNotFound):
			logger.Debug("manifest_not_found", "model_dir", cfg.Model.Dir)
		default:
			return nil, err
		}
		if name == "" {
			name = filepath.Base(filepath.Clean(cfg.Model.Dir))
		}
	}
	if name == "" {
		return nil, errors.New("model name is required: set model.name or model.dir")
	}

	return inference.NewRequestContext(inference.RequestContextConfig{
		ModelName:     name,
		ModelDir:      cfg.Model.Dir,
		Manifest:      manifestID,
		BatchSize:     cfg.Batch.Size,
		Device:        cfg.Model.Device,
		ModelVersion:  modelVersion,
		ServerVersion: version,
	})
}

func buildAdapter(cfg config.Config) (service.InferenceAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Handler.Kind)) {
	case "echo":
		return service.NewEchoAdapter(), nil
	case "bridge":
		return service.NewBridgeAdapter(cfg.Model.Dir, cfg.Handler.Command)
	default:
		return nil, fmt.Errorf("unsupported handler %q", cfg.Handler.Kind)
	}
}
