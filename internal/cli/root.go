package cli

import (
	"fmt"
	"os"

	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/version"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

type appState struct {
	overrides  config.Overrides
	noProgress bool

	cfg    *config.Config
	logger *zap.Logger

	detect    whisper.AcceleratorDetector
	newEngine func(cfg *config.Config, logger *zap.Logger) (whisper.Engine, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{})
}

func newRootCmd(app *appState) *cobra.Command {

	cmd := &cobra.Command{
		Use:           "voxserve",
		Short:         "Speech-to-text HTTP service backed by whisper",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.overrides.EnvFile, "env-file", "", "Path to a .env file (default .env when present)")
	flags.BoolVar(&app.overrides.Verbose, "verbose", false, "Enable verbose logs")
	flags.BoolVar(&app.overrides.JSON, "json", false, "Enable JSON logging")
	flags.StringVar(&app.overrides.ModelName, "model", "", "Model name or model file path (MODEL_NAME)")
	flags.StringVar(&app.overrides.ModelDir, "model-dir", "", "Directory where models are stored (MODEL_DIR)")
	flags.StringVar(&app.overrides.Device, "device", "", "Inference device: auto|cpu|cuda (DEVICE)")
	flags.StringVar(&app.overrides.Engine, "engine", "", "Inference engine: cli|openai (ENGINE)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newLanguagesCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// prepare loads configuration and the logger unless they were injected.
func (a *appState) prepare() error {
	if a.cfg == nil {
		cfg, err := config.Load(a.overrides)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		a.cfg = cfg
	}

	if a.logger == nil {
		logger, err := logging.New(logging.Options{
			Level:   a.cfg.LogLevel,
			Verbose: a.overrides.Verbose,
			JSON:    a.cfg.LogJSON,
			File:    a.cfg.LogFile,
		})
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		a.logger = logger
	}
	return nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
