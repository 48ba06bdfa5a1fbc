package fetcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/fetcher"
	"github.com/coreos/update-engine/internal/reactor"
)

type recordingDelegate struct {
	chunks     [][]byte
	completed  *bool
	terminated bool
}

func (d *recordingDelegate) OnChunk(_ uint64, chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	d.chunks = append(d.chunks, cp)
}

func (d *recordingDelegate) OnTransferComplete(success bool) {
	d.completed = &success
}

func (d *recordingDelegate) OnTransferTerminated() {
	d.terminated = true
}

func TestFake_DeliversAllDataThenCompletes(t *testing.T) {
	t.Parallel()

	data := make([]byte, fetcher.ChunkMax*2+10)
	for i := range data {
		data[i] = byte(i % 256)
	}

	f := fetcher.NewFake(data)
	rx := reactor.NewFake()
	d := &recordingDelegate{}

	f.Begin(context.Background(), rx, d)
	rx.RunReady()

	require.NotNil(t, d.completed)
	require.True(t, *d.completed)
	require.False(t, d.terminated)

	var total int
	for _, c := range d.chunks {
		total += len(c)
	}

	require.Equal(t, len(data), total)
}

func TestFake_SetOffsetSkipsLeadingBytes(t *testing.T) {
	t.Parallel()

	f := fetcher.NewFake([]byte("foo"))
	f.SetOffset(1)

	rx := reactor.NewFake()
	d := &recordingDelegate{}

	f.Begin(context.Background(), rx, d)
	rx.RunReady()

	require.Len(t, d.chunks, 1)
	require.Equal(t, "oo", string(d.chunks[0]))
}

func TestFake_TerminateStopsDelivery(t *testing.T) {
	t.Parallel()

	data := make([]byte, fetcher.ChunkMax*3)

	f := fetcher.NewFake(data)
	rx := reactor.NewFake()
	d := &recordingDelegate{}

	f.Begin(context.Background(), rx, d)
	f.Terminate()
	rx.RunReady()

	require.True(t, d.terminated)
	require.Nil(t, d.completed)
}
