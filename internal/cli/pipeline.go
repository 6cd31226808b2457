package cli

import (
	"fmt"
	"os"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/intake"
	"github.com/fmueller/voxserve/internal/platform"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
)

type pipeline struct {
	placement whisper.Placement
	handle    *whisper.Handle
	intake    *intake.Service
	service   *transcription.Service
}

// buildPipeline wires intake, decoding and the model handle from configuration.
func (a *appState) buildPipeline(uploadDir string) (*pipeline, error) {
	cfg := a.cfg
	logger := a.log()

	placement := cfg.Placement(a.detect)
	if placement.Fallback() {
		logger.Warn("CUDA requested but no accelerator detected; running on cpu")
	}

	newEngine := a.newEngine
	if newEngine == nil {
		newEngine = a.defaultEngine
	}
	engine, err := newEngine(cfg, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	in, err := intake.NewService(intake.Options{
		Dir:     uploadDir,
		MaxSize: cfg.MaxFileSize,
		Logger:  logger.Named("intake"),
	})
	if err != nil {
		return nil, err
	}

	decoder := audio.NewNormalizer(cfg.FFmpegPath, cfg.SampleRate, logger.Named("audio"))
	if !decoder.FFmpegAvailable() {
		logger.Warn("ffmpeg not found; only WAV uploads can be decoded", zap.String("ffmpeg", cfg.FFmpegPath))
	}

	handle := whisper.NewHandle(engine, placement, cfg.InferenceConcurrency, logger.Named("model"))

	svc, err := transcription.NewService(transcription.Options{
		Intake:               in,
		Decoder:              decoder,
		Model:                handle,
		Logger:               logger.Named("transcription"),
		ChunkSeconds:         cfg.ChunkSeconds,
		SilenceGate:          cfg.SilenceGate,
		SilenceThresholdDBFS: cfg.SilenceThresholdDBFS,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{placement: placement, handle: handle, intake: in, service: svc}, nil
}

func (a *appState) defaultEngine(cfg *config.Config, logger *zap.Logger) (whisper.Engine, error) {
	if cfg.Engine == config.EngineOpenAI {
		return whisper.NewOpenAIEngine(cfg.WhisperAPIURL, cfg.WhisperAPIKey, cfg.ModelName, cfg.WhisperTimeout, logger)
	}

	store, err := a.modelStore()
	if err != nil {
		return nil, err
	}
	return whisper.NewCLIEngine(cfg.WhisperCLIPath, cfg.ModelName, store, logger), nil
}

func (a *appState) modelStore() (*whisper.ModelStore, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory %s: %w", dir, err)
	}

	store := whisper.NewModelStore(dir, a.cfg.AutoDownload, a.log().Named("models"))
	store.NoProgress = !a.progressEnabled()
	return store, nil
}
