package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Normalizer decodes audio files into mono waveforms at SampleRate.
// It shells out to ffmpeg when available and otherwise only understands WAV.
type Normalizer struct {
	FFmpegPath string
	SampleRate int
	Logger     *zap.Logger

	lookPath func(string) (string, error)
}

func NewNormalizer(ffmpegPath string, sampleRate int, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Normalizer{FFmpegPath: ffmpegPath, SampleRate: sampleRate, Logger: logger}
}

// FFmpegAvailable reports whether the configured ffmpeg binary can be found.
func (n *Normalizer) FFmpegAvailable() bool {
	_, err := n.resolveFFmpeg()
	return err == nil
}

func (n *Normalizer) Normalize(ctx context.Context, path string) (Waveform, error) {
	var (
		wave Waveform
		err  error
	)

	if ffmpeg, lookErr := n.resolveFFmpeg(); lookErr == nil {
		wave, err = n.decodeWithFFmpeg(ctx, ffmpeg, path)
	} else {
		n.log().Debug("ffmpeg unavailable; using native wav decoder", zap.Error(lookErr))
		wave, err = n.decodeNative(path)
	}
	if err != nil {
		return Waveform{}, err
	}

	if len(wave.Samples) == 0 {
		return Waveform{}, ErrEmptyAudio
	}
	return wave, nil
}

func (n *Normalizer) decodeWithFFmpeg(ctx context.Context, ffmpeg, path string) (Waveform, error) {
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(n.SampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	n.log().Debug("decoding audio", zap.String("ffmpeg", ffmpeg), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Waveform{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Waveform{}, fmt.Errorf("%w: ffmpeg: %s", ErrUnsupportedFormat, firstLine(stderr.String()))
		}
		return Waveform{}, fmt.Errorf("run ffmpeg: %w", err)
	}

	raw := stdout.Bytes()
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return Waveform{Samples: samples, SampleRate: n.SampleRate}, nil
}

func (n *Normalizer) decodeNative(path string) (Waveform, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return Waveform{}, fmt.Errorf("%w: %s requires ffmpeg", ErrUnsupportedFormat, strings.ToLower(filepath.Ext(path)))
	}

	wave, err := ReadWAV(path)
	if err != nil {
		return Waveform{}, err
	}

	return Waveform{
		Samples:    Resample(wave.Samples, wave.SampleRate, n.SampleRate),
		SampleRate: n.SampleRate,
	}, nil
}

func (n *Normalizer) resolveFFmpeg() (string, error) {
	lookPath := n.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	path := n.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	if strings.ContainsRune(path, os.PathSeparator) {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", path)
		}
		return path, nil
	}
	return lookPath(path)
}

func (n *Normalizer) log() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "could not decode input"
	}
	return s
}
