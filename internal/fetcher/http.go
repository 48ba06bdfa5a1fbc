package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/reactor"
)

// HTTP fetches a URL with net/http, using a ranged GET when an offset was
// set. Reads happen on a background goroutine (net/http gives no other
// choice for a blocking Body.Read); every delegate callback is redispatched
// onto the reactor so the rest of the engine never observes concurrency.
type HTTP struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	mu        sync.Mutex
	offset    uint64
	chunkMax  int
	cancel    context.CancelFunc
	terminate bool
}

// NewHTTP returns a Fetcher for url using client (http.DefaultClient if nil).
func NewHTTP(url string, client *http.Client, log zerolog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTP{url: url, client: client, log: log.With().Str("component", "fetcher").Logger()}
}

// SetOffset implements Fetcher.
func (h *HTTP) SetOffset(n uint64) {
	h.mu.Lock()
	h.offset = n
	h.mu.Unlock()
}

// SetChunkMax overrides the delivered chunk size bound, for deployments
// that tune it via config. Zero or negative keeps the engine default.
func (h *HTTP) SetChunkMax(n int) {
	h.mu.Lock()
	h.chunkMax = n
	h.mu.Unlock()
}

// Begin implements Fetcher.
func (h *HTTP) Begin(ctx context.Context, rx reactor.Reactor, delegate Delegate) {
	reqCtx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	offset := h.offset

	size := h.chunkMax
	if size <= 0 {
		size = ChunkMax
	}
	h.mu.Unlock()

	go h.run(reqCtx, rx, delegate, offset, size)
}

// Terminate implements Fetcher.
func (h *HTTP) Terminate() {
	h.mu.Lock()
	h.terminate = true

	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Unlock()
}

func (h *HTTP) run(ctx context.Context, rx reactor.Reactor, delegate Delegate, offset uint64, chunkSize int) {
	resp, err := h.open(ctx, offset)
	if err != nil {
		h.finish(rx, delegate, false)

		return
	}

	defer resp.Body.Close()

	buf := make([]byte, chunkSize)
	cur := offset

	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliverOffset := cur

			rx.Schedule(0, func() {
				delegate.OnChunk(deliverOffset, chunk)
			})

			cur += uint64(n)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			h.finish(rx, delegate, true)

			return
		}

		if readErr != nil {
			h.mu.Lock()
			terminated := h.terminate
			h.mu.Unlock()

			if terminated {
				h.finishTerminated(rx, delegate)

				return
			}

			h.log.Error().Err(readErr).Msg("fetcher read failed")
			h.finish(rx, delegate, false)

			return
		}
	}
}

func (h *HTTP) open(ctx context.Context, offset uint64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do request: %w", err)
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()

		return nil, fmt.Errorf("fetcher: unexpected status %d", resp.StatusCode)
	}

	// A server that ignores the Range header replays the payload from byte
	// zero, which would silently corrupt a resumed transfer.
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()

		return nil, fmt.Errorf("fetcher: server ignored range request (status %d)", resp.StatusCode)
	}

	return resp, nil
}

func (h *HTTP) finish(rx reactor.Reactor, delegate Delegate, success bool) {
	h.mu.Lock()
	terminated := h.terminate
	h.mu.Unlock()

	if terminated {
		h.finishTerminated(rx, delegate)

		return
	}

	rx.Schedule(0, func() {
		delegate.OnTransferComplete(success)
	})
}

func (h *HTTP) finishTerminated(rx reactor.Reactor, delegate Delegate) {
	rx.Schedule(0, func() {
		delegate.OnTransferTerminated()
	})
}
