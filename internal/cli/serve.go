package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fmueller/voxserve/internal/api"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownGrace = 30 * time.Second

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the speech-to-text HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.prepare(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&app.overrides.HTTPAddr, "addr", "", "Listen address (HTTP_ADDR)")
	cmd.Flags().StringVar(&app.overrides.UploadDir, "upload-dir", "", "Directory for temporary uploads (UPLOAD_DIR)")
	cmd.Flags().StringVar(&app.overrides.LogLevel, "log-level", "", "Log level (LOG_LEVEL)")
	return cmd
}

func (a *appState) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.log()
	defer func() { _ = logger.Sync() }()

	p, err := a.buildPipeline(cfg.UploadDir)
	if err != nil {
		return err
	}

	logger.Info("starting speech-to-text api",
		zap.String("version", version.Resolve()),
		zap.String("engine", cfg.Engine),
		zap.String("model", cfg.ModelName),
		zap.String("device", string(p.placement.Device)),
		zap.String("compute_type", string(p.placement.Precision)),
		zap.String("upload_dir", p.intake.Dir()),
		zap.Int("inference_concurrency", cfg.InferenceConcurrency),
	)

	if cfg.PreloadModel {
		if _, err := p.handle.Load(ctx); err != nil {
			logger.Error("failed to load model during startup; requests will retry", zap.Error(err))
		}
	}

	if !a.overrides.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	go p.intake.RunSweeper(ctx, cfg.SweepInterval, cfg.StaleUploadAge)

	router := api.NewRouter(api.Options{
		AppName: cfg.AppName,
		Version: version.Resolve(),
		Service: p.service,
		Logger:  logger.Named("http"),
	})

	srv := api.NewServer(api.ServerOptions{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}, router, logger.Named("http"))

	err = srv.Run(ctx, shutdownGrace)
	logger.Info("shutting down speech-to-text api")
	return err
}
