package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fmueller/voxserve/internal/download"
	"go.uber.org/zap"
)

const DefaultModel = "small"

// Model is a ggml whisper checkpoint published by whisper.cpp.
type Model struct {
	Name     string
	FileName string
	URL      string
	SHA256   string
}

// ModelFile is a model reference resolved against a model directory.
type ModelFile struct {
	Name     string
	Path     string
	URL      string
	SHA256   string
	Missing  bool
	IsCustom bool
}

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

var registry = map[string]Model{
	"tiny":     {Name: "tiny", FileName: "ggml-tiny.bin", SHA256: "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21"},
	"base":     {Name: "base", FileName: "ggml-base.bin", SHA256: "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe"},
	"small":    {Name: "small", FileName: "ggml-small.bin", SHA256: "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b"},
	"medium":   {Name: "medium", FileName: "ggml-medium.bin", SHA256: "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208"},
	"large-v3": {Name: "large-v3", FileName: "ggml-large-v3.bin", SHA256: "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2"},
}

func init() {
	for name, m := range registry {
		m.URL = hfBase + m.FileName
		registry[name] = m
	}
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupModel(name string) (Model, bool) {
	m, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// ModelStore resolves model references to files and fetches named models on demand.
type ModelStore struct {
	Dir          string
	AutoDownload bool
	NoProgress   bool
	Logger       *zap.Logger

	fetch func(context.Context, download.Options) error
}

func NewModelStore(dir string, autoDownload bool, logger *zap.Logger) *ModelStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelStore{Dir: dir, AutoDownload: autoDownload, NoProgress: true, Logger: logger}
}

// Resolve maps a registry name or a path to a model file without touching the network.
func (s *ModelStore) Resolve(ref string) (ModelFile, error) {
	if strings.TrimSpace(ref) == "" {
		ref = DefaultModel
	}

	if m, ok := LookupModel(ref); ok {
		if strings.TrimSpace(s.Dir) == "" {
			return ModelFile{}, errors.New("model directory must not be empty for named model")
		}

		path := filepath.Join(s.Dir, m.FileName)
		_, statErr := os.Stat(path)
		if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
			return ModelFile{}, fmt.Errorf("stat model path: %w", statErr)
		}

		return ModelFile{
			Name:    m.Name,
			Path:    path,
			URL:     m.URL,
			SHA256:  m.SHA256,
			Missing: statErr != nil,
		}, nil
	}

	if !looksLikePath(ref) {
		return ModelFile{}, fmt.Errorf("unknown model %q (known models: %s)", ref, strings.Join(ModelNames(), ", "))
	}

	custom := filepath.Clean(ref)
	if _, err := os.Stat(custom); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ModelFile{}, fmt.Errorf("custom model path does not exist: %s", custom)
		}
		return ModelFile{}, fmt.Errorf("stat custom model path: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(custom), filepath.Ext(custom))
	return ModelFile{Name: name, Path: custom, IsCustom: true}, nil
}

// Ensure resolves ref and downloads the model when it is missing.
// A missing model with AutoDownload off is an error.
func (s *ModelStore) Ensure(ctx context.Context, ref string) (ModelFile, error) {
	mf, err := s.Resolve(ref)
	if err != nil {
		return ModelFile{}, err
	}
	if !mf.Missing {
		return mf, nil
	}
	if !s.AutoDownload {
		return ModelFile{}, fmt.Errorf("model %q not found at %s; run `voxserve setup` or enable AUTO_DOWNLOAD", mf.Name, mf.Path)
	}

	return mf, s.Download(ctx, mf)
}

// Download fetches mf into place and verifies its checksum.
func (s *ModelStore) Download(ctx context.Context, mf ModelFile) error {
	if mf.IsCustom || mf.URL == "" {
		return fmt.Errorf("model %s has no download source", mf.Path)
	}

	fetch := s.fetch
	if fetch == nil {
		fetch = download.DownloadFile
	}

	s.log().Info("downloading model", zap.String("model", mf.Name), zap.String("url", mf.URL), zap.String("path", mf.Path))
	if err := fetch(ctx, download.Options{
		URL:            mf.URL,
		Destination:    mf.Path,
		ExpectedSHA256: mf.SHA256,
		NoProgress:     s.NoProgress,
		Logger:         s.log(),
	}); err != nil {
		return fmt.Errorf("download model %s: %w", mf.Name, err)
	}
	return nil
}

func (s *ModelStore) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}
