// Package fetcher implements the HTTP Fetcher: a source bound
// to a URL that produces byte chunks, with resumable ranged GET and
// external cancellation, delivering each chunk on the reactor rather than
// from whatever goroutine net/http happens to call back on.
package fetcher

import (
	"context"

	"github.com/coreos/update-engine/internal/reactor"
)

// ChunkMax bounds the size of a single delivered chunk. The last chunk of a
// transfer may be smaller.
const ChunkMax = 64 * 1024

// Delegate receives chunk and completion callbacks from a Fetcher. Exactly
// one of OnTransferComplete or OnTransferTerminated fires per Begin call.
type Delegate interface {
	// OnChunk delivers bytes at a strictly increasing, contiguous logical
	// offset (starting from whatever SetOffset established).
	OnChunk(offset uint64, chunk []byte)
	// OnTransferComplete fires once the source is exhausted, successfully
	// or not.
	OnTransferComplete(success bool)
	// OnTransferTerminated fires instead of OnTransferComplete if Terminate
	// was called, after resources are released.
	OnTransferTerminated()
}

// Fetcher produces byte chunks for a URL.
type Fetcher interface {
	// SetOffset requests a ranged transfer beginning at byte n. Must be
	// called before Begin.
	SetOffset(n uint64)
	// Begin starts producing chunks, delivered via delegate on the given
	// reactor.
	Begin(ctx context.Context, reactor reactor.Reactor, delegate Delegate)
	// Terminate requests cancellation. The fetcher must still deliver
	// OnTransferTerminated after releasing its resources.
	Terminate()
}
