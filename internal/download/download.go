package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/metrics"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const userAgent = "voxserve/1"

var ErrChecksumMismatch = errors.New("checksum mismatch")

// StatusError is a non-200 response. Client errors are not retried.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

func (e *StatusError) permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	Retries        int
	Backoff        time.Duration
	NoProgress     bool
	Progress       io.Writer
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// DownloadFile fetches URL into Destination through a .part file that is only
// renamed into place once the body is complete and its sha256 matches.
func DownloadFile(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 300 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Progress == nil {
		opts.Progress = os.Stderr
	}

	expected := strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256))

	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	started := time.Now()
	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download",
				zap.Int("attempt", attempt), zap.Int("max", opts.Retries),
				zap.String("url", opts.URL), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				metrics.RecordModelDownload("canceled")
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * opts.Backoff):
			}
		}

		var written int64
		written, lastErr = downloadOnce(ctx, opts, expected)
		if lastErr == nil {
			metrics.RecordModelDownload("ok")
			opts.Logger.Info("download complete",
				zap.String("path", opts.Destination),
				zap.Int64("bytes", written),
				zap.Duration("took", time.Since(started)))
			return nil
		}
		if ctx.Err() != nil {
			metrics.RecordModelDownload("canceled")
			return ctx.Err()
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.permanent() {
			break
		}
	}

	metrics.RecordModelDownload("error")
	return lastErr
}

// VerifyFileChecksum hashes the file at path. An empty expected sum accepts any content.
func VerifyFileChecksum(path, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	if actual := hex.EncodeToString(h.Sum(nil)); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func downloadOnce(ctx context.Context, opts Options, expectedChecksum string) (int64, error) {
	tempPath := opts.Destination + ".part"
	_ = os.Remove(tempPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Code: resp.StatusCode}
	}

	outFile, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = outFile.Close()
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	hash := sha256.New()
	writer := io.MultiWriter(outFile, hash)

	var bar *progressbar.ProgressBar
	if shouldRenderProgress(opts.NoProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription("downloading model"),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(outFile, hash, bar)
	}

	written, err := io.Copy(writer, resp.Body)
	if err != nil {
		return written, fmt.Errorf("download body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return written, fmt.Errorf("download body: got %d of %d bytes", written, resp.ContentLength)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	if err := outFile.Sync(); err != nil {
		return written, fmt.Errorf("sync temp file: %w", err)
	}

	if expectedChecksum != "" {
		if actual := hex.EncodeToString(hash.Sum(nil)); actual != expectedChecksum {
			return written, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedChecksum, actual)
		}
	}

	if err := outFile.Close(); err != nil {
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, opts.Destination); err != nil {
		return written, fmt.Errorf("move temp file into destination: %w", err)
	}

	success = true
	return written, nil
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress || contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
