package activate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// AtomicKernelStager copies the install tree's kernel image into the ESP
// using an atomic temp-file-then-rename write, so a crash mid-copy never
// leaves a half-written kernel at the canonical name.
type AtomicKernelStager struct {
	// SourceRelPath locates the kernel image inside the install tree; empty
	// means the standard boot/vmlinuz location. The finalizer sets it from
	// its KERNEL=<name> argv token.
	SourceRelPath string
}

// NewAtomicKernelStager returns an AtomicKernelStager reading the standard
// kernel location.
func NewAtomicKernelStager() AtomicKernelStager { return AtomicKernelStager{} }

// Stage implements activate.KernelStager.
func (s AtomicKernelStager) Stage(espMountPoint, installTreeRoot, name string) error {
	rel := s.SourceRelPath
	if rel == "" {
		rel = filepath.Join("boot", "vmlinuz")
	}

	src := filepath.Join(installTreeRoot, rel)

	f, err := os.Open(src) //nolint:gosec // installTreeRoot is operator-controlled
	if err != nil {
		return fmt.Errorf("kernelstage: open %s: %w", src, err)
	}
	defer f.Close()

	dst := filepath.Join(espMountPoint, name)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("kernelstage: mkdir: %w", err)
	}

	if err := atomic.WriteFile(dst, f); err != nil {
		return fmt.Errorf("kernelstage: write %s: %w", dst, err)
	}

	return nil
}
