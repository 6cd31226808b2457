package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIEngine talks to an OpenAI-compatible /v1/audio/transcriptions server
// such as faster-whisper-server, speaches or LocalAI.
type OpenAIEngine struct {
	BaseURL string
	Model   string
	Logger  *zap.Logger

	client *openai.Client
}

func NewOpenAIEngine(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*OpenAIEngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("WHISPER_API_URL is required for the openai engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEngine{
		BaseURL: baseURL,
		Model:   model,
		Logger:  logger,
		client:  openai.NewClientWithConfig(cfg),
	}, nil
}

func (e *OpenAIEngine) Name() string {
	return "openai"
}

func (e *OpenAIEngine) ModelName() string {
	return e.Model
}

// Load checks that the server answers. Servers without a models listing are accepted.
func (e *OpenAIEngine) Load(ctx context.Context, _ Placement) (ModelInfo, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
			e.Logger.Debug("transcription server has no model listing", zap.String("url", e.BaseURL))
			return ModelInfo{Name: e.Model}, nil
		}
		return ModelInfo{}, fmt.Errorf("%w: reach transcription server %s: %w", ErrModelLoad, e.BaseURL, err)
	}

	e.Logger.Debug("transcription server reachable", zap.String("url", e.BaseURL), zap.Int("models", len(list.Models)))
	return ModelInfo{Name: e.Model}, nil
}

func (e *OpenAIEngine) Infer(ctx context.Context, req Request) (Transcript, error) {
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, req.Audio); err != nil {
		return Transcript{}, fmt.Errorf("encode request audio: %w", err)
	}

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.Model,
		FilePath: "audio.wav",
		Reader:   &buf,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, classifyRemoteError(err)
	}

	return Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

func classifyRemoteError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusInsufficientStorage || isOutOfMemory(apiErr.Message) {
			return fmt.Errorf("%w: %w", ErrOutOfResource, err)
		}
		return fmt.Errorf("transcription server: %w", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusInsufficientStorage || isOutOfMemory(reqErr.Error()) {
			return fmt.Errorf("%w: %w", ErrOutOfResource, err)
		}
		if reqErr.HTTPStatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
	}
	return fmt.Errorf("transcription server: %w", err)
}
