package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/fmueller/voxserve/internal/audio"
	"go.uber.org/zap"
)

const blankAudioToken = "[BLANK_AUDIO]"

// CLIEngine runs whisper.cpp's whisper-cli as a subprocess per inference.
type CLIEngine struct {
	Executable string
	ModelRef   string
	Store      *ModelStore
	Logger     *zap.Logger

	model     ModelFile
	placement Placement
}

func NewCLIEngine(executable, modelRef string, store *ModelStore, logger *zap.Logger) *CLIEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIEngine{Executable: strings.TrimSpace(executable), ModelRef: modelRef, Store: store, Logger: logger}
}

func (e *CLIEngine) Name() string {
	return "whisper-cli"
}

// ModelName is the configured model as it will be reported once loaded.
func (e *CLIEngine) ModelName() string {
	ref := strings.TrimSpace(e.ModelRef)
	if ref == "" {
		return DefaultModel
	}
	if m, ok := LookupModel(ref); ok {
		return m.Name
	}
	base := filepath.Base(ref)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load locates the executable and makes sure the model file is present.
func (e *CLIEngine) Load(ctx context.Context, placement Placement) (ModelInfo, error) {
	exe, err := e.resolveExecutable()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if e.Store == nil {
		return ModelInfo{}, fmt.Errorf("%w: no model store configured", ErrModelLoad)
	}

	model, err := e.Store.Ensure(ctx, e.ModelRef)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if placement.Precision == PrecisionInt8 {
		e.Logger.Warn("whisper-cli takes its precision from the model file; compute type int8 is ignored",
			zap.String("model", model.Path))
	}

	e.Executable = exe
	e.model = model
	e.placement = placement
	e.Logger.Debug("whisper-cli ready", zap.String("executable", exe), zap.String("model", model.Path))

	return ModelInfo{Name: model.Name}, nil
}

func (e *CLIEngine) Infer(ctx context.Context, req Request) (Transcript, error) {
	if e.model.Path == "" {
		return Transcript{}, errors.New("whisper-cli engine is not loaded")
	}

	workDir, err := os.MkdirTemp("", "voxserve-infer-*")
	if err != nil {
		return Transcript{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "input.wav")
	if err := writeWAVFile(wavPath, req.Audio); err != nil {
		return Transcript{}, err
	}

	outBase := filepath.Join(workDir, "out")
	args := e.args(wavPath, outBase, req.Language)

	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	e.Logger.Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return Transcript{}, e.classifyRunError(err, strings.TrimSpace(stderr.String()))
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return Transcript{}, fmt.Errorf("read whisper output: %w", err)
	}

	out, err := parseCLIOutput(raw)
	if err != nil {
		return Transcript{}, err
	}
	out.Duration = req.Audio.Seconds()
	return out, nil
}

func (e *CLIEngine) args(wavPath, outBase, language string) []string {
	if language == "" {
		language = "auto"
	}

	args := []string{"-m", e.model.Path, "-f", wavPath, "-oj", "-of", outBase, "-nt", "-np", "-l", language}

	switch e.placement.Device {
	case DeviceCUDA:
		// -fa enables flash attention; weight precision comes from the model file.
		if e.placement.Precision == PrecisionFloat16 {
			args = append(args, "-fa")
		}
	default:
		args = append(args, "-ng")
	}

	if e.placement.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.placement.Threads))
	}
	return args
}

func (e *CLIEngine) classifyRunError(runErr error, errText string) error {
	switch {
	case isOutOfMemory(errText):
		return fmt.Errorf("%w: %s", ErrOutOfResource, errText)
	case isMissingSharedLibraryError(errText):
		return fmt.Errorf("%w: whisper-cli at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", ErrModelLoad, e.Executable, errText)
	case isIllegalInstructionError(errText) || isIllegalInstructionError(runErr.Error()):
		return fmt.Errorf("%w: whisper-cli crashed with an illegal CPU instruction; set WHISPER_CLI_PATH to a binary built for this CPU", ErrModelLoad)
	case strings.Contains(strings.ToLower(errText), "failed to initialize whisper context"):
		return fmt.Errorf("%w: %s", ErrModelLoad, errText)
	default:
		return fmt.Errorf("whisper-cli failed: %w (%s)", runErr, errText)
	}
}

func (e *CLIEngine) resolveExecutable() (string, error) {
	if e.Executable != "" {
		if !strings.ContainsRune(e.Executable, os.PathSeparator) {
			path, err := exec.LookPath(e.Executable)
			if err != nil {
				return "", fmt.Errorf("whisper executable %q not found on PATH: %w", e.Executable, err)
			}
			return path, nil
		}
		if err := ensureExecutable(e.Executable); err != nil {
			return "", fmt.Errorf("WHISPER_CLI_PATH is not executable: %w", err)
		}
		return e.Executable, nil
	}

	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve voxserve executable path: %w", err)
	}
	return ResolveEnginePath(self, exec.LookPath)
}

// ResolveEnginePath looks for whisper-cli next to the voxserve binary and then on PATH.
func ResolveEnginePath(selfExecutable string, lookPath func(string) (string, error)) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	if lookPath != nil {
		if path, err := lookPath(engineBinaryName()); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("whisper engine not found near %s or on PATH; install whisper.cpp or set WHISPER_CLI_PATH", selfExecutable)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, engineName),
	}
}

type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseCLIOutput(raw []byte) (Transcript, error) {
	var out cliOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Transcript{}, fmt.Errorf("parse whisper output: %w", err)
	}

	var b strings.Builder
	for _, segment := range out.Transcription {
		b.WriteString(segment.Text)
	}

	text := strings.TrimSpace(strings.ReplaceAll(b.String(), blankAudioToken, ""))
	return Transcript{Text: strings.Join(strings.Fields(text), " "), Language: out.Result.Language}, nil
}

func writeWAVFile(path string, wave audio.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create engine input: %w", err)
	}
	if err := audio.EncodeWAV(f, wave); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode engine input: %w", err)
	}
	return f.Close()
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	for _, pattern := range []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	} {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
