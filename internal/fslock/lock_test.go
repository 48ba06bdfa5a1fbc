package fslock_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/fslock"
)

func TestAcquireWithTimeout_SecondAcquireTimesOut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esp")

	first, err := fslock.AcquireWithTimeout(path, time.Second)
	require.NoError(t, err)

	defer first.Release()

	_, err = fslock.AcquireWithTimeout(path, 50*time.Millisecond)
	require.ErrorIs(t, err, fslock.ErrTimeout)
}

func TestAcquireWithTimeout_ReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "esp")

	first, err := fslock.AcquireWithTimeout(path, time.Second)
	require.NoError(t, err)
	first.Release()

	second, err := fslock.AcquireWithTimeout(path, time.Second)
	require.NoError(t, err)
	second.Release()
}

func TestLock_ReleaseIsNilSafe(t *testing.T) {
	t.Parallel()

	var l *fslock.Lock

	l.Release()
}
