// Package gpttool wraps the image-bundled GPT attribute tool:
// repair, set-attrs (add -S.. -T..), prioritize, and show, each invoked
// through an execwrap.Executor under the new image's dynamic linker so the
// tool's ABI requirements don't depend on the host's libc.
package gpttool

import (
	"context"
	"fmt"

	"github.com/coreos/update-engine/internal/execwrap"
)

// Tool runs GPT attribute operations against a block device.
type Tool struct {
	exec    execwrap.Executor
	binPath string
	loader  string
	libPath string
}

// New returns a Tool that invokes binPath via loader/libPath (both empty
// means exec binPath directly, e.g. in tests against a host-native tool).
func New(exec execwrap.Executor, binPath, loader, libPath string) *Tool {
	return &Tool{exec: exec, binPath: binPath, loader: loader, libPath: libPath}
}

// Repair normalizes GPT metadata on device `repair <device>`.
func (t *Tool) Repair(ctx context.Context, device string) error {
	_, err := t.run(ctx, "repair", device)
	if err != nil {
		return fmt.Errorf("gpttool: repair %s: %w", device, err)
	}

	return nil
}

// SetAttrs sets successful and tries on device's partition
// `add -S.. -T..`.
func (t *Tool) SetAttrs(ctx context.Context, device string, successful, tries int) error {
	_, err := t.run(ctx, "add", fmt.Sprintf("-S%d", successful), fmt.Sprintf("-T%d", tries), device)
	if err != nil {
		return fmt.Errorf("gpttool: set-attrs %s: %w", device, err)
	}

	return nil
}

// Prioritize raises device's partition priority above its peers via the
// tool's `prioritize <device>` subcommand.
func (t *Tool) Prioritize(ctx context.Context, device string) error {
	_, err := t.run(ctx, "prioritize", device)
	if err != nil {
		return fmt.Errorf("gpttool: prioritize %s: %w", device, err)
	}

	return nil
}

// Show emits the device's current GPT attribute state, diagnostic only.
func (t *Tool) Show(ctx context.Context, device string) (string, error) {
	result, err := t.run(ctx, "show", device)
	if err != nil {
		return "", fmt.Errorf("gpttool: show %s: %w", device, err)
	}

	return result.Stdout, nil
}

func (t *Tool) run(ctx context.Context, args ...string) (execwrap.Result, error) {
	return t.exec.Run(ctx, t.loader, t.libPath, t.binPath, args...)
}
