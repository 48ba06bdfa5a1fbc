package iosink

import "fmt"

// BufferSink is an in-memory Sink. Scenarios assert on final file contents
// without touching a real filesystem; it also backs the "fake" fetch-and-write
// round trip in download stage tests.
type BufferSink struct {
	buf  []byte
	pos  int64
	open bool
}

// NewBufferSink returns an empty, unopened BufferSink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// Open implements Sink.
func (b *BufferSink) Open() error {
	b.open = true

	return nil
}

// Seek implements Sink. Seeking past the current length zero-extends the
// buffer, matching a sparse-file write through a real device sink.
func (b *BufferSink) Seek(offset int64) error {
	if !b.open {
		return fmt.Errorf("iosink: seek before open")
	}

	if offset < 0 {
		return fmt.Errorf("iosink: negative seek offset %d", offset)
	}

	if int(offset) > len(b.buf) {
		b.buf = append(b.buf, make([]byte, int(offset)-len(b.buf))...)
	}

	b.pos = offset

	return nil
}

// Write implements Sink.
func (b *BufferSink) Write(chunk []byte) error {
	if !b.open {
		return fmt.Errorf("iosink: write before open")
	}

	end := b.pos + int64(len(chunk))
	if int(end) > len(b.buf) {
		b.buf = append(b.buf, make([]byte, int(end)-len(b.buf))...)
	}

	copy(b.buf[b.pos:end], chunk)
	b.pos = end

	return nil
}

// Close implements Sink.
func (b *BufferSink) Close() error {
	b.open = false

	return nil
}

// Bytes returns the buffer's current contents. Intended for test assertions.
func (b *BufferSink) Bytes() []byte {
	return b.buf
}
