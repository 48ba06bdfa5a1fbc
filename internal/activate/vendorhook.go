package activate

import (
	"context"
	"fmt"
	"os"

	"github.com/coreos/update-engine/internal/execwrap"
)

// ExecVendorHook runs the OEM hook executable at Path, invoked with
// <slot_identity> <staging_root>, if it exists and is executable. A missing
// hook is not an error; only a configured-but-failing hook is.
type ExecVendorHook struct {
	Path string
	Exec execwrap.Executor
}

// NewExecVendorHook returns a VendorHook for the well-known path.
func NewExecVendorHook(path string, exec execwrap.Executor) *ExecVendorHook {
	return &ExecVendorHook{Path: path, Exec: exec}
}

// Run implements VendorHook.
func (h *ExecVendorHook) Run(ctx context.Context, slot Identity, stagingRoot string) error {
	if h.Path == "" {
		return nil
	}

	info, err := os.Stat(h.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("vendorhook: stat %s: %w", h.Path, err)
	}

	if info.Mode()&0o111 == 0 {
		return nil
	}

	_, err = h.Exec.Run(ctx, "", "", h.Path, slot.String(), stagingRoot)
	if err != nil {
		return fmt.Errorf("vendorhook: %s: %w", h.Path, err)
	}

	return nil
}
