package whisper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/voxserve/internal/download"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultNamedModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewModelStore(dir, false, nil)

	mf, err := store.Resolve("")
	require.NoError(t, err)
	require.Equal(t, DefaultModel, mf.Name)
	require.Equal(t, filepath.Join(dir, "ggml-small.bin"), mf.Path)
	require.Equal(t, hfBase+"ggml-small.bin", mf.URL)
	require.True(t, mf.Missing)
	require.False(t, mf.IsCustom)
}

func TestResolveExistingNamedModel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ggml-tiny.bin")
	require.NoError(t, os.WriteFile(path, []byte("ok"), 0o644))

	mf, err := NewModelStore(dir, false, nil).Resolve("Tiny")
	require.NoError(t, err)
	require.Equal(t, "tiny", mf.Name)
	require.Equal(t, path, mf.Path)
	require.False(t, mf.Missing)
}

func TestResolveCustomPath(t *testing.T) {
	t.Parallel()

	custom := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(custom, []byte("x"), 0o644))

	mf, err := NewModelStore(t.TempDir(), false, nil).Resolve(custom)
	require.NoError(t, err)
	require.True(t, mf.IsCustom)
	require.Equal(t, "custom", mf.Name)
	require.Equal(t, custom, mf.Path)
}

func TestResolveUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := NewModelStore(t.TempDir(), false, nil).Resolve("super-huge")
	require.ErrorContains(t, err, "unknown model")
}

func TestEnsureRequiresAutoDownloadForMissingModel(t *testing.T) {
	t.Parallel()

	store := NewModelStore(t.TempDir(), false, nil)
	store.fetch = func(context.Context, download.Options) error {
		t.Fatal("download must not run")
		return nil
	}

	_, err := store.Ensure(context.Background(), "tiny")
	require.ErrorContains(t, err, "voxserve setup")
}

func TestEnsureDownloadsMissingModelWithPinnedChecksum(t *testing.T) {
	t.Parallel()

	store := NewModelStore(t.TempDir(), true, nil)
	var got download.Options
	store.fetch = func(_ context.Context, opts download.Options) error {
		got = opts
		return os.WriteFile(opts.Destination, []byte("model"), 0o644)
	}

	mf, err := store.Ensure(context.Background(), "base")
	require.NoError(t, err)
	require.Equal(t, mf.Path, got.Destination)
	require.Equal(t, hfBase+"ggml-base.bin", got.URL)
	require.Len(t, got.ExpectedSHA256, 64)

	_, err = os.Stat(mf.Path)
	require.NoError(t, err)
}

func TestRegistryModelsHavePinnedChecksums(t *testing.T) {
	t.Parallel()

	for _, name := range ModelNames() {
		model, ok := LookupModel(name)
		require.True(t, ok)
		require.Lenf(t, model.SHA256, 64, "model %s should have pinned sha256", name)
		require.NotEmpty(t, model.URL)
	}
}
