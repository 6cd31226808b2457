package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxFileSize int64 = 50 * 1024 * 1024

var DefaultExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".aac", ".ogg", ".wma"}

var (
	ErrMissingFilename      = errors.New("filename is required")
	ErrFileTooLarge         = errors.New("file too large")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrEmptyFile            = errors.New("file is empty")
	ErrOutsideUploadDir     = errors.New("path is outside the upload directory")
)

// Upload is one client-supplied file. Size is the declared size, or -1 if unknown.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Content     io.Reader
}

// TempFile is an accepted upload persisted inside the upload directory.
type TempFile struct {
	Path string
	Size int64
	Ext  string
}

type Options struct {
	Dir        string
	MaxSize    int64
	Extensions []string
	Logger     *zap.Logger
}

type Service struct {
	dir        string
	maxSize    int64
	extensions map[string]struct{}
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(opts Options) (*Service, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("upload directory must not be empty")
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxFileSize
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", dir, err)
	}

	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	return &Service{
		dir:        dir,
		maxSize:    opts.MaxSize,
		extensions: exts,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

func (s *Service) Dir() string {
	return s.dir
}

func (s *Service) MaxSize() int64 {
	return s.maxSize
}

func (s *Service) Extensions() []string {
	out := make([]string, 0, len(s.extensions))
	for ext := range s.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Validate runs the checks that need no file content.
func (s *Service) Validate(up Upload) (string, error) {
	name := strings.TrimSpace(up.Filename)
	if name == "" {
		return "", ErrMissingFilename
	}

	if up.Size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrFileTooLarge, up.Size, s.maxSize)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := s.extensions[ext]; !ok {
		return "", fmt.Errorf("%w %q (allowed: %s)", ErrUnsupportedExtension, ext, strings.Join(s.Extensions(), ", "))
	}

	return ext, nil
}

// Accept validates the upload and writes its content to a uniquely named file.
// Nothing is left on disk when Accept fails.
func (s *Service) Accept(up Upload) (TempFile, error) {
	ext, err := s.Validate(up)
	if err != nil {
		return TempFile{}, err
	}
	if up.Content == nil {
		return TempFile{}, ErrEmptyFile
	}

	path := filepath.Join(s.dir, uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return TempFile{}, fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	written, err := io.Copy(f, io.LimitReader(up.Content, s.maxSize+1))
	if err != nil {
		return TempFile{}, fmt.Errorf("write temp file: %w", err)
	}
	if written > s.maxSize {
		return TempFile{}, fmt.Errorf("%w: exceeds limit of %d bytes", ErrFileTooLarge, s.maxSize)
	}
	if written == 0 {
		return TempFile{}, ErrEmptyFile
	}
	if err := f.Close(); err != nil {
		return TempFile{}, fmt.Errorf("close temp file: %w", err)
	}

	success = true
	s.logger.Debug("accepted upload", zap.String("filename", up.Filename), zap.String("path", path), zap.Int64("bytes", written))
	return TempFile{Path: path, Size: written, Ext: ext}, nil
}

// Release deletes the temp file. Deleting an already missing file is not an error.
func (s *Service) Release(tf TempFile) error {
	if tf.Path == "" {
		return nil
	}
	if !s.owns(tf.Path) {
		return fmt.Errorf("%w: %s", ErrOutsideUploadDir, tf.Path)
	}

	err := os.Remove(tf.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp file: %w", err)
	}
	s.logger.Debug("released upload", zap.String("path", tf.Path))
	return nil
}

// With accepts the upload, runs fn on the temp file and always releases it,
// also when fn panics.
func (s *Service) With(up Upload, fn func(TempFile) error) (err error) {
	tf, err := s.Accept(up)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := s.Release(tf); releaseErr != nil {
			s.logger.Warn("failed to remove temp file", zap.String("path", tf.Path), zap.Error(releaseErr))
			if err == nil {
				err = releaseErr
			}
		}
	}()

	return fn(tf)
}

// Sweep removes regular files older than maxAge from the upload directory.
func (s *Service) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		s.logger.Debug("removed stale upload", zap.String("path", path), zap.Time("modified", info.ModTime()))
	}

	return removed, errors.Join(errs...)
}

func (s *Service) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == s.dir
}
