// Package iosink implements the File Writer contract: a sink that
// accepts byte chunks at a byte offset and persists them, with variants
// for direct-to-device writes, in-memory buffering, and fault-injected
// testing.
//
// The FS/File split narrows a Real/os.File-shaped abstraction down to
// what a byte-stream sink needs, since nothing in this domain reads
// directories or stats arbitrary paths.
package iosink

import "os"

// File is the subset of *os.File the sink needs: write, seek, sync, close.
type File interface {
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Sync() error
	Close() error
}

// FS opens files for writing. Real backs DeviceSink; BufferSink keeps its
// bytes in memory and uses no FS.
type FS interface {
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
	MkdirAll(path string, perm os.FileMode) error
}

// Real implements FS using the os package.
type Real struct{}

// NewReal returns a new Real filesystem.
func NewReal() Real { return Real{} }

// OpenFile is a passthrough wrapper for os.OpenFile.
func (Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm)
}

// MkdirAll is a passthrough wrapper for os.MkdirAll.
func (Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
