package fetcher

import (
	"context"

	"github.com/coreos/update-engine/internal/reactor"
)

// Fake is an in-memory Fetcher for tests: it serves data's bytes starting
// from the offset set by SetOffset, delivering ChunkMax-sized chunks on the
// given reactor exactly as HTTP would, without any real network I/O.
type Fake struct {
	data   []byte
	offset uint64

	terminated bool
}

// NewFake returns a Fake fetcher serving data.
func NewFake(data []byte) *Fake {
	return &Fake{data: data}
}

// SetOffset implements Fetcher.
func (f *Fake) SetOffset(n uint64) {
	f.offset = n
}

// Begin implements Fetcher. It schedules one reactor task per chunk so
// tests can observe suspension-point ordering with a Fake reactor.
func (f *Fake) Begin(_ context.Context, rx reactor.Reactor, delegate Delegate) {
	f.terminated = false
	f.deliverFrom(rx, delegate, f.offset)
}

// Terminate implements Fetcher.
func (f *Fake) Terminate() {
	f.terminated = true
}

func (f *Fake) deliverFrom(rx reactor.Reactor, delegate Delegate, cur uint64) {
	if f.terminated {
		rx.Schedule(0, delegate.OnTransferTerminated)

		return
	}

	if cur >= uint64(len(f.data)) {
		rx.Schedule(0, func() {
			delegate.OnTransferComplete(true)
		})

		return
	}

	end := cur + ChunkMax
	if end > uint64(len(f.data)) {
		end = uint64(len(f.data))
	}

	chunk := f.data[cur:end]
	deliverOffset := cur

	rx.Schedule(0, func() {
		if f.terminated {
			delegate.OnTransferTerminated()

			return
		}

		delegate.OnChunk(deliverOffset, chunk)
		f.deliverFrom(rx, delegate, end)
	})
}
