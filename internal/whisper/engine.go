package whisper

import (
	"context"
	"errors"
	"strings"

	"github.com/fmueller/voxserve/internal/audio"
)

var (
	ErrModelLoad     = errors.New("model load failed")
	ErrOutOfResource = errors.New("insufficient resources for inference")
	ErrInference     = errors.New("inference failed")
)

// Engine runs a whisper model. Load is called before the first Infer.
type Engine interface {
	Name() string
	Load(ctx context.Context, placement Placement) (ModelInfo, error)
	Infer(ctx context.Context, req Request) (Transcript, error)
}

type Request struct {
	Audio audio.Waveform
	// Language is a validated code, empty for auto-detection.
	Language string
}

type Transcript struct {
	Text     string
	Language string
	// Duration is the audio length in seconds as seen by the engine.
	Duration float64
}

type ModelInfo struct {
	Name        string    `json:"model_name"`
	Engine      string    `json:"engine"`
	Device      Device    `json:"device"`
	ComputeType Precision `json:"compute_type"`
	Loaded      bool      `json:"loaded"`
}

var outOfMemoryPatterns = []string{
	"out of memory",
	"cuda error 2",
	"cudaerrormemoryallocation",
	"failed to allocate",
	"cannot allocate memory",
	"std::bad_alloc",
}

func isOutOfMemory(text string) bool {
	value := strings.ToLower(text)
	for _, pattern := range outOfMemoryPatterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}
