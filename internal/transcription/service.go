package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/audio"
	"github.com/fmueller/voxserve/internal/intake"
	"github.com/fmueller/voxserve/internal/metrics"
	"github.com/fmueller/voxserve/internal/whisper"
	"go.uber.org/zap"
)

const DefaultSilenceThresholdDBFS = -65.0

// Decoder turns a file on disk into a mono waveform.
type Decoder interface {
	Normalize(ctx context.Context, path string) (audio.Waveform, error)
}

// Model is the subset of whisper.Handle the pipeline needs.
type Model interface {
	Infer(ctx context.Context, wave audio.Waveform, hint string) (whisper.Transcript, error)
	Info() whisper.ModelInfo
}

type Options struct {
	Intake  *intake.Service
	Decoder Decoder
	Model   Model
	Logger  *zap.Logger

	// ChunkSeconds splits longer audio into pieces inferred in order. Zero disables it.
	ChunkSeconds         float64
	SilenceGate          bool
	SilenceThresholdDBFS float64
}

type Result struct {
	Transcription  string            `json:"transcription"`
	Language       string            `json:"language"`
	Confidence     *float64          `json:"confidence"`
	ProcessingTime float64           `json:"processing_time"`
	FileSize       int64             `json:"file_size"`
	Duration       float64           `json:"duration"`
	Model          whisper.ModelInfo `json:"model_info"`
}

type FileInfo struct {
	Filename    string   `json:"filename"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	Duration    *float64 `json:"duration"`
}

type Service struct {
	intake  *intake.Service
	decoder Decoder
	model   Model
	logger  *zap.Logger

	chunkSeconds     float64
	silenceGate      bool
	silenceThreshold float64
}

func NewService(opts Options) (*Service, error) {
	if opts.Intake == nil || opts.Decoder == nil || opts.Model == nil {
		return nil, fmt.Errorf("transcription service needs intake, decoder and model")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SilenceThresholdDBFS == 0 {
		opts.SilenceThresholdDBFS = DefaultSilenceThresholdDBFS
	}

	return &Service{
		intake:           opts.Intake,
		decoder:          opts.Decoder,
		model:            opts.Model,
		logger:           opts.Logger,
		chunkSeconds:     opts.ChunkSeconds,
		silenceGate:      opts.SilenceGate,
		silenceThreshold: opts.SilenceThresholdDBFS,
	}, nil
}

// Transcribe runs intake, decoding and inference for one upload. The temp file
// is removed on every path. Errors are *Error.
func (s *Service) Transcribe(ctx context.Context, up intake.Upload, hint string) (Result, error) {
	start := time.Now()
	logger := s.logger.With(zap.String("filename", up.Filename))

	if _, err := whisper.NormalizeLanguage(hint); err != nil {
		return Result{}, s.fail("transcribe", logger, err)
	}

	var res Result
	err := s.intake.With(up, func(tf intake.TempFile) error {
		logger.Info("starting transcription", zap.Int64("bytes", tf.Size), zap.String("language_hint", hint))

		wave, err := s.decoder.Normalize(ctx, tf.Path)
		if err != nil {
			return err
		}
		metrics.ObserveAudio(wave.Seconds())

		levels := audio.Measure(wave)
		logger.Debug("audio levels",
			zap.Float64("seconds", wave.Seconds()),
			zap.Float64("rms_dbfs", levels.RMSdBFS),
			zap.Float64("peak_dbfs", levels.PeakdBFS),
		)

		res = Result{FileSize: tf.Size, Duration: wave.Seconds(), Model: s.model.Info()}

		if s.silenceGate && levels.IsSilent(s.silenceThreshold) {
			code, _ := whisper.NormalizeLanguage(hint)
			if code == "" {
				code = "unknown"
			}
			res.Language = code
			logger.Info("audio is silent; skipping inference", zap.Float64("peak_dbfs", levels.PeakdBFS))
			return nil
		}

		audio.PeakNormalize(wave.Samples)

		text, lang, err := s.infer(ctx, wave, hint)
		if err != nil {
			return err
		}
		res.Transcription = text
		res.Language = lang
		res.Model = s.model.Info()
		return nil
	})
	if err != nil {
		return Result{}, s.fail("transcribe", logger, err)
	}

	res.ProcessingTime = time.Since(start).Seconds()
	metrics.RecordRequest("transcribe", "ok")
	logger.Info("transcription completed",
		zap.String("language", res.Language),
		zap.Float64("duration", res.Duration),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (s *Service) infer(ctx context.Context, wave audio.Waveform, hint string) (string, string, error) {
	pieces := []audio.Waveform{wave}
	if s.chunkSeconds > 0 {
		pieces = wave.Split(s.chunkSeconds)
	}

	texts := make([]string, 0, len(pieces))
	language := ""
	for i, piece := range pieces {
		out, err := s.model.Infer(ctx, piece, hint)
		if err != nil {
			if len(pieces) > 1 {
				return "", "", fmt.Errorf("chunk %d/%d: %w", i+1, len(pieces), err)
			}
			return "", "", err
		}
		if i == 0 {
			language = out.Language
		}
		if text := strings.TrimSpace(out.Text); text != "" {
			texts = append(texts, text)
		}
	}

	return strings.Join(texts, " "), language, nil
}

// FileInfo validates and stores the upload long enough to measure it.
// An undecodable file still yields info, with no duration.
func (s *Service) FileInfo(ctx context.Context, up intake.Upload) (FileInfo, error) {
	logger := s.logger.With(zap.String("filename", up.Filename))

	var info FileInfo
	err := s.intake.With(up, func(tf intake.TempFile) error {
		info = FileInfo{Filename: up.Filename, Size: tf.Size, ContentType: up.ContentType}

		wave, err := s.decoder.Normalize(ctx, tf.Path)
		if err != nil {
			logger.Debug("could not determine duration", zap.Error(err))
			return nil
		}
		seconds := wave.Seconds()
		info.Duration = &seconds
		return nil
	})
	if err != nil {
		return FileInfo{}, s.fail("file_info", logger, err)
	}

	metrics.RecordRequest("file_info", "ok")
	return info, nil
}

// Languages lists supported hint codes.
func (s *Service) Languages() []string {
	return whisper.Languages()
}

func (s *Service) ModelInfo() whisper.ModelInfo {
	return s.model.Info()
}

func (s *Service) MaxUploadSize() int64 {
	return s.intake.MaxSize()
}

func (s *Service) fail(operation string, logger *zap.Logger, err error) *Error {
	classified := s.classify(err)
	metrics.RecordRequest(operation, string(classified.Code))

	if classified.Kind == KindInternal || classified.Kind == KindResource {
		logger.Error(operation+" failed", zap.String("code", string(classified.Code)), zap.Error(err))
	} else {
		logger.Warn(operation+" rejected", zap.String("code", string(classified.Code)), zap.Error(err))
	}
	return classified
}
