package whisper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Handle owns a loaded engine and the admission gate in front of it.
type Handle struct {
	engine    Engine
	placement Placement
	gate      *semaphore.Weighted
	logger    *zap.Logger

	mu       sync.RWMutex
	loaded   bool
	info     ModelInfo
	inflight *loadCall
}

// loadCall is one engine load shared by every caller that arrives while it runs.
type loadCall struct {
	done chan struct{}
	info ModelInfo
	err  error
}

// modelReferrer is implemented by engines that know their configured model
// before loading it.
type modelReferrer interface {
	ModelName() string
}

func NewHandle(engine Engine, placement Placement, concurrency int, logger *zap.Logger) *Handle {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info := ModelInfo{
		Engine:      engine.Name(),
		Device:      placement.Device,
		ComputeType: placement.Precision,
	}
	if ref, ok := engine.(modelReferrer); ok {
		info.Name = ref.ModelName()
	}

	return &Handle{
		engine:    engine,
		placement: placement,
		gate:      semaphore.NewWeighted(int64(concurrency)),
		logger:    logger,
		info:      info,
	}
}

// Load loads the model once. Callers arriving during a load share its outcome
// and stop waiting when their ctx is done; the load itself keeps running. A
// failed load leaves the handle unloaded so a later call retries.
func (h *Handle) Load(ctx context.Context) (ModelInfo, error) {
	h.mu.Lock()
	if h.loaded {
		info := h.info
		h.mu.Unlock()
		return info, nil
	}
	call := h.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		h.inflight = call
		go h.runLoad(context.WithoutCancel(ctx), call)
	}
	h.mu.Unlock()

	select {
	case <-call.done:
		return call.info, call.err
	case <-ctx.Done():
		return ModelInfo{}, ctx.Err()
	}
}

func (h *Handle) runLoad(ctx context.Context, call *loadCall) {
	defer close(call.done)

	start := time.Now()
	info, err := h.engine.Load(ctx, h.placement)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight = nil

	if err != nil {
		h.logger.Error("model load failed", zap.String("engine", h.engine.Name()), zap.Error(err))
		if !errors.Is(err, ErrOutOfResource) && !errors.Is(err, ErrModelLoad) {
			err = fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		call.err = err
		return
	}

	if info.Name == "" {
		info.Name = h.info.Name
	}
	info.Engine = h.engine.Name()
	info.Device = h.placement.Device
	info.ComputeType = h.placement.Precision
	info.Loaded = true
	h.info = info
	h.loaded = true
	call.info = info
	metrics.ModelLoaded.Set(1)

	h.logger.Info("model loaded",
		zap.String("model", info.Name),
		zap.String("engine", info.Engine),
		zap.String("device", string(info.Device)),
		zap.String("compute_type", string(info.ComputeType)),
		zap.Duration("took", time.Since(start)),
	)
}

func (h *Handle) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loaded
}

func (h *Handle) Info() ModelInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.info
}

func (h *Handle) Placement() Placement {
	return h.placement
}

func (h *Handle) Languages() []string {
	return Languages()
}

// Infer transcribes wave. The hint is validated first; the model is loaded lazily.
// Waiting for the load or the gate ends only when ctx is cancelled. Once admitted, inference
// runs to completion even if ctx is cancelled.
func (h *Handle) Infer(ctx context.Context, wave audio.Waveform, hint string) (Transcript, error) {
	lang, err := NormalizeLanguage(hint)
	if err != nil {
		return Transcript{}, err
	}
	if wave.Len() == 0 {
		return Transcript{}, audio.ErrEmptyAudio
	}

	if _, err := h.Load(ctx); err != nil {
		return Transcript{}, err
	}

	metrics.GateWaiting.Inc()
	err = h.gate.Acquire(ctx, 1)
	metrics.GateWaiting.Dec()
	if err != nil {
		return Transcript{}, err
	}
	defer h.gate.Release(1)

	start := time.Now()
	out, err := h.engine.Infer(context.WithoutCancel(ctx), Request{Audio: wave, Language: lang})
	metrics.ObserveInference(h.engine.Name(), time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrOutOfResource) || errors.Is(err, ErrModelLoad) {
			return Transcript{}, err
		}
		return Transcript{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	if lang != "" {
		out.Language = lang
	} else {
		out.Language = canonicalLanguage(out.Language)
	}
	if out.Duration <= 0 {
		out.Duration = wave.Seconds()
	}

	h.logger.Debug("inference finished",
		zap.String("language", out.Language),
		zap.Float64("audio_seconds", wave.Seconds()),
		zap.Duration("took", time.Since(start)),
	)
	return out, nil
}
