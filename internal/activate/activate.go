// Package activate implements the Slot Activator: given the
// freshly written slot device, it derives the slot identity from the GPT
// partition label, stages the kernel image onto the ESP, invokes an
// optional vendor hook, and marks the slot "try once, highest priority" via
// the GPT tool — never touching the other slot's attributes.
package activate

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/esp"
	"github.com/coreos/update-engine/internal/fslock"
	"github.com/coreos/update-engine/internal/remediation"
)

// Identity is a symbolic A/B slot value.
type Identity int

const (
	// SlotA is the A root/usr slot.
	SlotA Identity = iota
	// SlotB is the B root/usr slot.
	SlotB
)

// String implements fmt.Stringer.
func (s Identity) String() string {
	if s == SlotA {
		return "a"
	}

	return "b"
}

// Peer returns the other slot.
func (s Identity) Peer() Identity {
	if s == SlotA {
		return SlotB
	}

	return SlotA
}

// Errors that are fatal to the finalizer.
var (
	ErrSlotResolution = errors.New("activate: unknown GPT partition label")
	ErrESPNotFound    = fmt.Errorf("activate: %w", esp.ErrNotFound)
	ErrActivation     = errors.New("activate: activation failed")
	ErrHook           = errors.New("activate: vendor hook failed")
)

// IdentityFromLabel derives an Identity from a GPT partition label:
// ROOT-A/USR-A ⇒ A, ROOT-B/USR-B ⇒ B, anything else is fatal.
func IdentityFromLabel(label string) (Identity, error) {
	switch strings.ToUpper(label) {
	case "ROOT-A", "USR-A":
		return SlotA, nil
	case "ROOT-B", "USR-B":
		return SlotB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrSlotResolution, label)
	}
}

// kernelName returns the canonical ESP-relative kernel image name for slot.
func kernelName(slot Identity) string {
	return path.Join("coreos", fmt.Sprintf("vmlinuz-%s", slot))
}

// GPTReader resolves a device to its partition label, so the activator can
// derive an Identity without depending on esp's internals directly.
type GPTReader interface {
	PartitionLabel(device string) (string, error)
}

// GPTTool is the subset of gpttool.Tool the activator needs.
type GPTTool interface {
	Repair(ctx context.Context, device string) error
	SetAttrs(ctx context.Context, device string, successful, tries int) error
	Prioritize(ctx context.Context, device string) error
}

// KernelStager copies the kernel image from the install tree into the ESP
// under name.
type KernelStager interface {
	Stage(espMountPoint, installTreeRoot, name string) error
}

// VendorHook is the opaque per-platform finalization hook: a
// capability with a predicate implicit in whether Path is set, and an
// effect that's just "run this executable with these args".
type VendorHook interface {
	// Run invokes the hook if configured, with (slot_identity, staging_root).
	// Returns nil if no hook is configured.
	Run(ctx context.Context, slot Identity, stagingRoot string) error
}

// LegacyWriter writes the legacy bootloader compatibility files,
// gated on whether the kernel cmdline carries the legacy marker.
type LegacyWriter interface {
	// HasLegacyMarker reports whether the running kernel cmdline requests
	// legacy loader compatibility.
	HasLegacyMarker() bool
	// WriteLegacy writes syslinux/vmlinuz.<SLOT>, syslinux/root.<SLOT>.cfg,
	// boot/grub/menu.lst, and conditionally syslinux/default.cfg.
	WriteLegacy(espMountPoint string, slot Identity) error
}

// Deps bundles the Slot Activator's capability dependencies.
type Deps struct {
	GPTReader    GPTReader
	ESPLocator   esp.Locator
	ESPMounter   esp.Mounter
	KernelStager KernelStager
	VendorHook   VendorHook
	Legacy       LegacyWriter
	GPTTool      GPTTool
	// Remediations holds the pluggable one-off workarounds run against the
	// staging root after the vendor hook; nil (or an empty registry) runs
	// nothing.
	Remediations *remediation.Registry
	Log          zerolog.Logger
	// LockDir, if non-empty, scopes an advisory fslock (one lock file per
	// mount point) around the ESP-mount-through-GPT-tool critical section, so
	// two concurrent Activate runs against the same ESP can't race each
	// other's mount/unmount or GPT tool invocation. Empty disables locking,
	// which test fakes rely on since they don't target a real filesystem path.
	LockDir string
	// LockTimeout bounds how long Activate waits for the lock; zero uses
	// fslock.DefaultTimeout.
	LockTimeout time.Duration
}

// Activate runs the Slot Activator against device
// installTreeRoot is where the freshly written payload's kernel lives;
// espCandidates is the set of block devices to scan for the ESP.
func Activate(ctx context.Context, deps Deps, device, installTreeRoot string, espCandidates []string, espMountPoint string) error {
	log := deps.Log.With().Str("component", "activate").Str("device", device).Logger()

	label, err := deps.GPTReader.PartitionLabel(device)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSlotResolution, err)
	}

	slot, err := IdentityFromLabel(label)
	if err != nil {
		return err
	}

	log.Info().Str("slot", slot.String()).Msg("activating slot")

	espDevice, err := deps.ESPLocator.Find(espCandidates)
	if err != nil {
		return ErrESPNotFound
	}

	if deps.LockDir != "" {
		lockPath := filepath.Join(deps.LockDir, filepath.Base(espMountPoint))

		timeout := deps.LockTimeout
		if timeout <= 0 {
			timeout = fslock.DefaultTimeout
		}

		lock, lockErr := fslock.AcquireWithTimeout(lockPath, timeout)
		if lockErr != nil {
			return fmt.Errorf("%w: acquire esp lock: %w", ErrActivation, lockErr)
		}

		defer lock.Release()
	}

	mounted, err := deps.ESPMounter.EnsureMounted(espDevice, espMountPoint)
	if err != nil {
		return fmt.Errorf("%w: mount esp: %w", ErrActivation, err)
	}

	defer func() {
		if tdErr := deps.ESPMounter.Teardown(mounted); tdErr != nil {
			log.Error().Err(tdErr).Msg("esp teardown failed")
		}
	}()

	if err := deps.KernelStager.Stage(mounted.MountPoint, installTreeRoot, kernelName(slot)); err != nil {
		return fmt.Errorf("%w: stage kernel: %w", ErrActivation, err)
	}

	if deps.Legacy != nil && deps.Legacy.HasLegacyMarker() {
		if err := deps.Legacy.WriteLegacy(mounted.MountPoint, slot); err != nil {
			return fmt.Errorf("%w: write legacy config: %w", ErrActivation, err)
		}
	}

	if deps.VendorHook != nil {
		if err := deps.VendorHook.Run(ctx, slot, mounted.MountPoint); err != nil {
			return fmt.Errorf("%w: %w", ErrHook, err)
		}
	}

	if deps.Remediations != nil {
		if err := deps.Remediations.RunAll(ctx, mounted.MountPoint); err != nil {
			return fmt.Errorf("%w: remediation: %w", ErrActivation, err)
		}
	}

	if err := deps.GPTTool.Repair(ctx, device); err != nil {
		return fmt.Errorf("%w: repair: %w", ErrActivation, err)
	}

	if err := deps.GPTTool.SetAttrs(ctx, device, 0, 1); err != nil {
		return fmt.Errorf("%w: set-attrs: %w", ErrActivation, err)
	}

	if err := deps.GPTTool.Prioritize(ctx, device); err != nil {
		return fmt.Errorf("%w: prioritize: %w", ErrActivation, err)
	}

	return nil
}
