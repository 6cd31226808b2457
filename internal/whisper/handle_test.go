package whisper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	loadErr   error
	inferErr  error
	loads     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
	lastReq   Request
	language  string
	mu        sync.Mutex
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Load(context.Context, Placement) (ModelInfo, error) {
	f.loads.Add(1)
	time.Sleep(5 * time.Millisecond)
	if f.loadErr != nil {
		return ModelInfo{}, f.loadErr
	}
	return ModelInfo{Name: "fake-small"}, nil
}

func (f *fakeEngine) Infer(ctx context.Context, req Request) (Transcript, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.maxActive.Load()
		if n <= old || f.maxActive.CompareAndSwap(old, n) {
			break
		}
	}

	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
	if f.inferErr != nil {
		return Transcript{}, f.inferErr
	}
	return Transcript{Text: "hello", Language: f.language}, nil
}

func oneSecond() audio.Waveform {
	return audio.Waveform{SampleRate: 16000, Samples: make([]float32, 16000)}
}

var cpu = Placement{Device: DeviceCPU, Precision: PrecisionFloat32}

func TestHandleLoadsOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	h := NewHandle(engine, cpu, 1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Load(context.Background())
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, engine.loads.Load())
	require.True(t, h.Loaded())

	info := h.Info()
	require.Equal(t, "fake-small", info.Name)
	require.Equal(t, "fake", info.Engine)
	require.Equal(t, DeviceCPU, info.Device)
	require.Equal(t, PrecisionFloat32, info.ComputeType)
	require.True(t, info.Loaded)
}

func TestHandleRetriesFailedLoad(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{loadErr: errors.New("no weights")}
	h := NewHandle(engine, cpu, 1, nil)

	_, err := h.Load(context.Background())
	require.ErrorIs(t, err, ErrModelLoad)
	require.False(t, h.Loaded())

	engine.loadErr = nil
	_, err = h.Load(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, engine.loads.Load())
}

func TestHandleGateSerializesInference(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 20 * time.Millisecond}
	h := NewHandle(engine, cpu, 1, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.Infer(context.Background(), oneSecond(), "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, engine.maxActive.Load())
}

func TestHandleGateDepthIsTunable(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 50 * time.Millisecond}
	h := NewHandle(engine, cpu, 3, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Infer(context.Background(), oneSecond(), "")
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, engine.maxActive.Load(), int32(2))
	require.LessOrEqual(t, engine.maxActive.Load(), int32(3))
}

func TestHandleQueuedCallerAbandonsOnCancel(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 200 * time.Millisecond}
	h := NewHandle(engine, cpu, 1, nil)
	_, err := h.Load(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.Infer(context.Background(), oneSecond(), "")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Infer(ctx, oneSecond(), "")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, <-done)
}

func TestHandleAdmittedInferenceIgnoresCancel(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: 50 * time.Millisecond}
	h := NewHandle(engine, cpu, 1, nil)
	_, err := h.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out, err := h.Infer(ctx, oneSecond(), "")
	require.NoError(t, err)
	require.Equal(t, "hello", out.Text)
}

func TestHandleForwardsLanguageHint(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{language: "en"}
	h := NewHandle(engine, cpu, 1, nil)

	out, err := h.Infer(context.Background(), oneSecond(), "FA")
	require.NoError(t, err)
	require.Equal(t, "fa", out.Language)
	require.Equal(t, "fa", engine.lastReq.Language)

	out, err = h.Infer(context.Background(), oneSecond(), "")
	require.NoError(t, err)
	require.Equal(t, "en", out.Language)
	require.Empty(t, engine.lastReq.Language)
	require.InDelta(t, 1.0, out.Duration, 1e-9)

	_, err = h.Infer(context.Background(), oneSecond(), "klingon")
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestHandleClassifiesInferenceErrors(t *testing.T) {
	t.Parallel()

	h := NewHandle(&fakeEngine{inferErr: errors.New("decoder exploded")}, cpu, 1, nil)
	_, err := h.Infer(context.Background(), oneSecond(), "")
	require.ErrorIs(t, err, ErrInference)

	h = NewHandle(&fakeEngine{inferErr: ErrOutOfResource}, cpu, 1, nil)
	_, err = h.Infer(context.Background(), oneSecond(), "")
	require.ErrorIs(t, err, ErrOutOfResource)
	require.NotErrorIs(t, err, ErrInference)

	h = NewHandle(&fakeEngine{}, cpu, 1, nil)
	_, err = h.Infer(context.Background(), audio.Waveform{SampleRate: 16000}, "")
	require.ErrorIs(t, err, audio.ErrEmptyAudio)
}

type gatedLoadEngine struct {
	fakeEngine
	started chan struct{}
	release chan struct{}
}

func newGatedLoadEngine() *gatedLoadEngine {
	return &gatedLoadEngine{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLoadEngine) ModelName() string { return "small" }

func (g *gatedLoadEngine) Load(ctx context.Context, p Placement) (ModelInfo, error) {
	close(g.started)
	<-g.release
	return g.fakeEngine.Load(ctx, p)
}

func TestHandleStaysReadableDuringSlowLoad(t *testing.T) {
	t.Parallel()

	engine := newGatedLoadEngine()
	h := NewHandle(engine, cpu, 1, nil)

	loadDone := make(chan error, 1)
	go func() {
		_, err := h.Load(context.Background())
		loadDone <- err
	}()
	<-engine.started

	readDone := make(chan ModelInfo, 1)
	go func() {
		_ = h.Loaded()
		readDone <- h.Info()
	}()
	select {
	case info := <-readDone:
		require.False(t, info.Loaded)
		require.Equal(t, "small", info.Name)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Info blocked while the model was loading")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Infer(ctx, oneSecond(), "")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(engine.release)
	require.NoError(t, <-loadDone)
	require.True(t, h.Loaded())
	require.EqualValues(t, 1, engine.loads.Load())

	out, err := h.Infer(context.Background(), oneSecond(), "")
	require.NoError(t, err)
	require.Equal(t, "hello", out.Text)
}

func TestHandleLoadSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()

	engine := newGatedLoadEngine()
	h := NewHandle(engine, cpu, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.Load(ctx)
		first <- err
	}()
	<-engine.started
	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	second := make(chan error, 1)
	go func() {
		_, err := h.Load(context.Background())
		second <- err
	}()
	close(engine.release)

	require.NoError(t, <-second)
	require.EqualValues(t, 1, engine.loads.Load())
}

func TestHandleReportsConfiguredModelBeforeLoad(t *testing.T) {
	t.Parallel()

	h := NewHandle(NewCLIEngine("", "Base", nil, nil), cpu, 1, nil)
	require.Equal(t, "base", h.Info().Name)
	require.False(t, h.Info().Loaded)

	h = NewHandle(NewCLIEngine("", "/models/ggml-custom-q5.bin", nil, nil), cpu, 1, nil)
	require.Equal(t, "ggml-custom-q5", h.Info().Name)

	h = NewHandle(&fakeEngine{}, cpu, 1, nil)
	require.Empty(t, h.Info().Name)
}
