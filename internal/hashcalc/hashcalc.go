// Package hashcalc implements the Hash Calculator: an
// incremental digest the Download Stage feeds every chunk through, so the
// final payload hash is known without a second read pass over the written
// file.
//
// SHA-256 comes from crypto/sha256 directly rather than a wrapper library:
// it's a primitive the standard library already implements correctly and
// constant-time where it matters. See DESIGN.md.
package hashcalc

import (
	"crypto/sha256"
	"hash"
)

// Calculator incrementally hashes bytes as they're written, so the Download
// Stage can verify the payload hash without re-reading the file it just
// wrote.
type Calculator struct {
	h hash.Hash
}

// New returns a Calculator ready to accept Write calls.
func New() *Calculator {
	return &Calculator{h: sha256.New()}
}

// Write feeds chunk into the running digest. It never fails: hash.Hash's
// Write contract guarantees this.
func (c *Calculator) Write(chunk []byte) {
	c.h.Write(chunk)
}

// Sum returns the 32-byte SHA-256 digest of everything written so far.
func (c *Calculator) Sum() []byte {
	return c.h.Sum(nil)
}

// Reset clears the running digest so the Calculator can be reused for a
// fresh transfer.
func (c *Calculator) Reset() {
	c.h.Reset()
}
