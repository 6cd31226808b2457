package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sha(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ggml-tiny.bin")
	payload := []byte("model weights")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	require.NoError(t, VerifyFileChecksum(path, sha(payload)))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.ErrorIs(t, VerifyFileChecksum(path, "deadbeef"), ErrChecksumMismatch)
	require.Error(t, VerifyFileChecksum(filepath.Join(t.TempDir(), "missing.bin"), "deadbeef"))
}

func TestDownloadFileVerifiesAndRenames(t *testing.T) {
	t.Parallel()

	payload := []byte("hello-weights")
	var userAgentSeen atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgentSeen.Store(r.UserAgent())
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "models", "ggml-small.bin")
	err := DownloadFile(context.Background(), Options{
		URL:            server.URL + "/ggml-small.bin",
		Destination:    destination,
		ExpectedSHA256: sha(payload),
		NoProgress:     true,
		Retries:        1,
	})
	require.NoError(t, err)

	onDisk, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)
	require.Equal(t, userAgent, userAgentSeen.Load())

	_, err = os.Stat(destination + ".part")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFileChecksumMismatchLeavesNothing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "ggml-small.bin")
	err := DownloadFile(context.Background(), Options{
		URL:            server.URL,
		Destination:    destination,
		ExpectedSHA256: sha([]byte("original")),
		NoProgress:     true,
		Retries:        2,
		Backoff:        time.Millisecond,
	})
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = os.Stat(destination)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(destination + ".part")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFileRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	payload := []byte("eventually")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "m.bin"),
		NoProgress:  true,
		Retries:     3,
		Backoff:     time.Millisecond,
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

func TestDownloadFileDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "m.bin"),
		NoProgress:  true,
		Retries:     3,
		Backoff:     time.Millisecond,
	})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestDownloadFileStopsOnCancel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DownloadFile(ctx, Options{
		URL:         server.URL,
		Destination: filepath.Join(t.TempDir(), "m.bin"),
		NoProgress:  true,
		Retries:     5,
		Backoff:     time.Hour,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDownloadFileRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	require.Error(t, DownloadFile(context.Background(), Options{Destination: "x"}))
	require.Error(t, DownloadFile(context.Background(), Options{URL: "http://example.invalid"}))
}
