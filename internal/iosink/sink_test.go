package iosink_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/iosink"
)

func TestBufferSink_WriteAndRead(t *testing.T) {
	t.Parallel()

	s := iosink.NewBufferSink()
	require.NoError(t, s.Open())
	require.NoError(t, s.Write([]byte("hello ")))
	require.NoError(t, s.Write([]byte("world")))
	require.NoError(t, s.Close())

	require.Equal(t, []byte("hello world"), s.Bytes())
}

func TestBufferSink_SeekThenWrite(t *testing.T) {
	t.Parallel()

	s := iosink.NewBufferSink()
	require.NoError(t, s.Open())
	require.NoError(t, s.Seek(1))
	require.NoError(t, s.Write([]byte("oo")))
	require.NoError(t, s.Close())

	require.Equal(t, []byte{0, 'o', 'o'}, s.Bytes())
}

func TestBufferSink_WriteBeforeOpen(t *testing.T) {
	t.Parallel()

	s := iosink.NewBufferSink()
	require.Error(t, s.Write([]byte("x")))
}

func TestFailAtWrite_ForcesNthCallToFail(t *testing.T) {
	t.Parallel()

	inner := iosink.NewBufferSink()
	require.NoError(t, inner.Open())

	s := iosink.NewFailAtWrite(inner, 2)

	require.NoError(t, s.Write([]byte("a")))
	err := s.Write([]byte("b"))
	require.Error(t, err)

	// The third call would succeed again; only the Nth call is forced to fail.
	require.NoError(t, s.Write([]byte("c")))

	require.Equal(t, []byte("ac"), inner.Bytes())
}
