package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

const (
	EngineCLI    = "cli"
	EngineOpenAI = "openai"
)

type Config struct {
	AppName string `env:"APP_NAME" envDefault:"Speech to Text API"`

	ModelName   string `env:"MODEL_NAME" envDefault:"small"`
	Device      string `env:"DEVICE" envDefault:"auto"`
	ComputeType string `env:"COMPUTE_TYPE"`

	Engine         string        `env:"ENGINE" envDefault:"cli"`
	WhisperCLIPath string        `env:"WHISPER_CLI_PATH"`
	ModelDir       string        `env:"MODEL_DIR"`
	AutoDownload   bool          `env:"AUTO_DOWNLOAD" envDefault:"true"`
	WhisperAPIURL  string        `env:"WHISPER_API_URL"`
	WhisperAPIKey  string        `env:"WHISPER_API_KEY"`
	WhisperTimeout time.Duration `env:"WHISPER_API_TIMEOUT" envDefault:"10m"`
	PreloadModel   bool          `env:"PRELOAD_MODEL" envDefault:"true"`

	MaxFileSize int64  `env:"MAX_FILE_SIZE" envDefault:"52428800"`
	UploadDir   string `env:"UPLOAD_DIR" envDefault:"uploads"`
	SampleRate  int    `env:"SAMPLE_RATE" envDefault:"16000"`
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	InferenceConcurrency int           `env:"INFERENCE_CONCURRENCY" envDefault:"1"`
	ChunkSeconds         float64       `env:"CHUNK_SECONDS" envDefault:"0"`
	SilenceGate          bool          `env:"SILENCE_GATE" envDefault:"false"`
	SilenceThresholdDBFS float64       `env:"SILENCE_THRESHOLD_DBFS" envDefault:"-65"`
	StaleUploadAge       time.Duration `env:"STALE_UPLOAD_AGE" envDefault:"1h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"127.0.0.1:8001"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`
	LogFile  string `env:"LOG_FILE"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile   string
	HTTPAddr  string
	LogLevel  string
	ModelName string
	Device    string
	Engine    string
	ModelDir  string
	UploadDir string
	Verbose   bool
	JSON      bool
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if overrides.EnvFile != "" {
		return nil, fmt.Errorf("env file %s: %w", overrides.EnvFile, err)
	}

	return FromEnvironment(env.ToMap(os.Environ()), overrides)
}

// FromEnvironment builds a Config from an explicit variable set.
func FromEnvironment(environ map[string]string, overrides Overrides) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.Verbose {
		cfg.LogLevel = "debug"
	}
	if overrides.JSON {
		cfg.LogJSON = true
	}
	if overrides.ModelName != "" {
		cfg.ModelName = overrides.ModelName
	}
	if overrides.Device != "" {
		cfg.Device = overrides.Device
	}
	if overrides.Engine != "" {
		cfg.Engine = overrides.Engine
	}
	if overrides.ModelDir != "" {
		cfg.ModelDir = overrides.ModelDir
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}

	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize))
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		errs = append(errs, errors.New("UPLOAD_DIR must not be empty"))
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE must be between 8000 and 192000, got %d", c.SampleRate))
	}
	if c.InferenceConcurrency < 1 {
		errs = append(errs, fmt.Errorf("INFERENCE_CONCURRENCY must be at least 1, got %d", c.InferenceConcurrency))
	}
	if c.ChunkSeconds < 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SECONDS must not be negative, got %g", c.ChunkSeconds))
	}
	if c.SilenceThresholdDBFS > 0 {
		errs = append(errs, fmt.Errorf("SILENCE_THRESHOLD_DBFS must be at most 0, got %g", c.SilenceThresholdDBFS))
	}
	if _, err := whisper.ParseDevice(c.Device); err != nil {
		errs = append(errs, fmt.Errorf("DEVICE: %w", err))
	}
	if _, err := whisper.ParsePrecision(c.ComputeType); err != nil {
		errs = append(errs, fmt.Errorf("COMPUTE_TYPE: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	switch c.Engine {
	case EngineCLI:
		if p, err := whisper.ParsePrecision(c.ComputeType); err == nil && p == whisper.PrecisionInt8 {
			errs = append(errs, errors.New("COMPUTE_TYPE=int8 is not supported by ENGINE=cli; whisper-cli precision comes from the model file"))
		}
	case EngineOpenAI:
		if strings.TrimSpace(c.WhisperAPIURL) == "" {
			errs = append(errs, errors.New("WHISPER_API_URL is required when ENGINE=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("ENGINE must be %q or %q, got %q", EngineCLI, EngineOpenAI, c.Engine))
	}

	return errors.Join(errs...)
}

// Placement resolves DEVICE and COMPUTE_TYPE. Validate has already vetted both.
func (c *Config) Placement(detect whisper.AcceleratorDetector) whisper.Placement {
	device, _ := whisper.ParseDevice(c.Device)
	precision, _ := whisper.ParsePrecision(c.ComputeType)
	return whisper.ResolvePlacement(device, precision, detect)
}
