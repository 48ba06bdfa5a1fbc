package iosink_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/iosink"
)

func TestDeviceSink_WritesAndCreatesParentDir(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "out.img")

	s := iosink.NewDeviceSink(iosink.NewReal(), path)
	require.NoError(t, s.Open())
	require.NoError(t, s.Seek(0))
	require.NoError(t, s.Write([]byte("payload")))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path) //nolint:gosec // test fixture path
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestDeviceSink_SeekPositionsWrite(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.img")

	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s := iosink.NewDeviceSink(iosink.NewReal(), path)
	require.NoError(t, s.Open())
	require.NoError(t, s.Seek(5))
	require.NoError(t, s.Write([]byte("XYZ")))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(path) //nolint:gosec // test fixture path
	require.NoError(t, err)
	require.Equal(t, "01234XYZ89", string(got))
}
