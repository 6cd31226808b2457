package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultModelDirForLinuxWithXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "/tmp/xdg-data")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/xdg-data", "voxserve", "models"), dir)
}

func TestDefaultModelDirForLinuxWithoutXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/home/dev", ".local", "share", "voxserve", "models"), dir)
}

func TestDefaultModelDirForMacOS(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("darwin", "/Users/dev", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/Users/dev", "Library", "Application Support", "voxserve", "models"), dir)
}

func TestDefaultModelDirForWindows(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("windows", "/Users/dev", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/Users/dev", "AppData", "Local", "voxserve", "models"), dir)
}

func TestDefaultModelDirRejectsUnknownOSAndEmptyHome(t *testing.T) {
	t.Parallel()

	_, err := DefaultModelDirFor("plan9", "/home/dev", "")
	require.Error(t, err)

	_, err = DefaultModelDirFor("linux", "", "")
	require.Error(t, err)
}

func TestResolveModelDirPrefersOverride(t *testing.T) {
	t.Parallel()

	dir, err := ResolveModelDir("/srv/models/../models")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/srv/models"), dir)
}
