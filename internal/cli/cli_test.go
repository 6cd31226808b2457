package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/config"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/fmueller/voxserve/internal/whisper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct{}

func (fakeEngine) Name() string { return "fake" }

func (fakeEngine) Load(context.Context, whisper.Placement) (whisper.ModelInfo, error) {
	return whisper.ModelInfo{Name: "fake-small", Engine: "fake"}, nil
}

func (fakeEngine) Infer(_ context.Context, req whisper.Request) (whisper.Transcript, error) {
	lang := req.Language
	if lang == "" {
		lang = "german"
	}
	return whisper.Transcript{Text: "hello world", Language: lang}, nil
}

func newTestApp(t *testing.T, environ map[string]string) *appState {
	t.Helper()

	base := map[string]string{
		"FFMPEG_PATH": filepath.Join(t.TempDir(), "missing-ffmpeg"),
		"MODEL_DIR":   t.TempDir(),
		"DEVICE":      "cpu",
	}
	for k, v := range environ {
		base[k] = v
	}

	cfg, err := config.FromEnvironment(base, config.Overrides{})
	require.NoError(t, err)

	return &appState{
		cfg:        cfg,
		logger:     zap.NewNop(),
		noProgress: true,
		detect:     func() bool { return false },
		newEngine: func(*config.Config, *zap.Logger) (whisper.Engine, error) {
			return fakeEngine{}, nil
		},
	}
}

func execute(t *testing.T, app *appState, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(app)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeToneWAV(t *testing.T) string {
	t.Helper()

	wave := audio.Waveform{SampleRate: 16000, Samples: make([]float32, 16000)}
	for i := range wave.Samples {
		wave.Samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}

	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, wave))

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRootHelpListsCommands(t *testing.T) {
	t.Parallel()

	out, err := execute(t, newTestApp(t, nil), "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "transcribe", "setup", "languages", "version"} {
		require.Contains(t, out, name)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t, nil), "record")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown command")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, newTestApp(t, nil), "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "voxserve v"), out)
}

func TestLanguagesCommandListsCodesAndNames(t *testing.T) {
	t.Parallel()

	out, err := execute(t, newTestApp(t, nil), "languages")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(whisper.Languages()))
	require.Contains(t, out, "english")
	require.Contains(t, out, "persian")
}

func TestTranscribePrintsJSONResult(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	out, err := execute(t, app, "transcribe", writeToneWAV(t), "--language", "en")
	require.NoError(t, err)

	var res transcription.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "hello world", res.Transcription)
	require.Equal(t, "en", res.Language)
	require.InDelta(t, 1.0, res.Duration, 0.01)
	require.Equal(t, "fake-small", res.Model.Name)
	require.Nil(t, res.Confidence)
}

func TestTranscribeMapsDetectedLanguageName(t *testing.T) {
	t.Parallel()

	out, err := execute(t, newTestApp(t, nil), "transcribe", writeToneWAV(t))
	require.NoError(t, err)

	var res transcription.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "de", res.Language)
}

func TestTranscribeRejectsUnknownLanguage(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t, nil), "transcribe", writeToneWAV(t), "--language", "klingon")
	require.Error(t, err)

	te, ok := transcription.AsError(err)
	require.True(t, ok)
	require.Equal(t, transcription.CodeUnsupportedLanguage, te.Code)
}

func TestTranscribeRejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := execute(t, newTestApp(t, nil), "transcribe", path)
	te, ok := transcription.AsError(err)
	require.True(t, ok)
	require.Equal(t, transcription.KindValidation, te.Kind)
}

func TestTranscribeMissingFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t, nil), "transcribe", filepath.Join(t.TempDir(), "nope.wav"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "open audio file")
}

func TestTranscribeRequiresOneArgument(t *testing.T) {
	t.Parallel()

	_, err := execute(t, newTestApp(t, nil), "transcribe")
	require.Error(t, err)
	require.Contains(t, err.Error(), "accepts 1 arg")
}

func TestSetupWithOpenAIEngineSkipsDownload(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, map[string]string{
		"ENGINE":          "openai",
		"WHISPER_API_URL": "http://127.0.0.1:9/v1",
	})
	out, err := execute(t, app, "setup")
	require.NoError(t, err)
	require.Contains(t, out, "nothing to download")
}

func TestSetupRejectsCustomModelPath(t *testing.T) {
	t.Parallel()

	modelPath := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(modelPath, []byte("weights"), 0o644))

	_, err := execute(t, newTestApp(t, map[string]string{"MODEL_NAME": modelPath}), "setup")
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom path")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, map[string]string{
		"HTTP_ADDR":  "127.0.0.1:0",
		"UPLOAD_DIR": filepath.Join(t.TempDir(), "uploads"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	stop := runSpinner(&buf, "Working", 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()
	stop()

	startSpinner(false, "noop")()
}
