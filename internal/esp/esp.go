// Package esp locates and mounts the EFI System Partition:
// block-device scanning via github.com/diskfs/go-diskfs (read-side GPT
// introspection), and mount/unmount lifecycle via github.com/moby/sys/mount
// and github.com/moby/sys/mountinfo, tracking whether teardown is this
// caller's responsibility.
package esp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
)

// TypeGUID is the well-known EFI System Partition GPT type GUID.
const TypeGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// ErrNotFound is returned when no EFI System Partition can be located on
// any scanned device.
var ErrNotFound = errors.New("esp: not found")

// Mount describes a located ESP: its source device and where it's mounted.
type Mount struct {
	Device     string
	MountPoint string
	// OwnsMount is true if this call mounted the ESP itself, meaning
	// teardown (unmount + rmdir) is this caller's responsibility.
	OwnsMount bool
}

// Locator finds the ESP device among a set of candidate block devices.
type Locator interface {
	// Find scans candidates for a partition with TypeGUID and returns its
	// device path. Returns ErrNotFound if none match.
	Find(candidates []string) (string, error)
}

// DiskfsLocator implements Locator using go-diskfs's GPT partition table
// reader.
type DiskfsLocator struct{}

// NewDiskfsLocator returns a DiskfsLocator.
func NewDiskfsLocator() DiskfsLocator { return DiskfsLocator{} }

// PartLabelReader resolves a partition device to its GPT partition label by
// scanning the kernel's by-partlabel symlink directory: the label lives in
// the parent disk's GPT, which a partition device node can't be opened to
// read directly. Satisfies activate.GPTReader.
type PartLabelReader struct {
	// Dir is the by-partlabel symlink directory, /dev/disk/by-partlabel on
	// a standard udev-managed system.
	Dir string
}

// NewPartLabelReader returns a PartLabelReader using the standard udev
// symlink directory.
func NewPartLabelReader() PartLabelReader {
	return PartLabelReader{Dir: "/dev/disk/by-partlabel"}
}

// PartitionLabel returns device's GPT partition label.
func (r PartLabelReader) PartitionLabel(device string) (string, error) {
	resolved, err := filepath.EvalSymlinks(device)
	if err != nil {
		return "", fmt.Errorf("esp: resolve %s: %w", device, err)
	}

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return "", fmt.Errorf("esp: read %s: %w", r.Dir, err)
	}

	for _, entry := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(r.Dir, entry.Name()))
		if err != nil {
			continue
		}

		if target == resolved {
			return entry.Name(), nil
		}
	}

	return "", fmt.Errorf("esp: no partition label found for %s", device)
}

// Find implements Locator.
func (DiskfsLocator) Find(candidates []string) (string, error) {
	for _, dev := range candidates {
		disk, err := diskfs.Open(dev, diskfs.WithOpenMode(diskfs.ReadOnly))
		if err != nil {
			continue
		}

		table, err := disk.GetPartitionTable()
		if err != nil {
			disk.Close()

			continue
		}

		gptTable, ok := table.(*gpt.Table)
		if !ok {
			disk.Close()

			continue
		}

		// GUID comparison is case-insensitive: go-diskfs reports type GUIDs
		// uppercase.
		for _, part := range gptTable.Partitions {
			if strings.EqualFold(string(part.Type), TypeGUID) {
				disk.Close()

				return dev, nil
			}
		}

		disk.Close()
	}

	return "", ErrNotFound
}

// Mounter mounts and unmounts the ESP, recording whether this call is
// responsible for teardown.
type Mounter interface {
	// EnsureMounted mounts device at mountPoint if it isn't already mounted
	// anywhere, returning a Mount describing it.
	EnsureMounted(device, mountPoint string) (Mount, error)
	// Teardown unmounts and removes the mount point, only if m.OwnsMount.
	Teardown(m Mount) error
}

// RealMounter implements Mounter using moby/sys/mount and moby/sys/mountinfo.
type RealMounter struct{}

// NewRealMounter returns a RealMounter.
func NewRealMounter() RealMounter { return RealMounter{} }

// EnsureMounted implements Mounter.
func (RealMounter) EnsureMounted(device, mountPoint string) (Mount, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return Mount{}, fmt.Errorf("esp: mkdir %s: %w", mountPoint, err)
	}

	mounted, err := mountinfo.Mounted(mountPoint)
	if err != nil {
		return Mount{}, fmt.Errorf("esp: check mounted %s: %w", mountPoint, err)
	}

	if mounted {
		return Mount{Device: device, MountPoint: mountPoint, OwnsMount: false}, nil
	}

	if err := mount.Mount(device, mountPoint, "vfat", ""); err != nil {
		return Mount{}, fmt.Errorf("esp: mount %s at %s: %w", device, mountPoint, err)
	}

	return Mount{Device: device, MountPoint: mountPoint, OwnsMount: true}, nil
}

// Teardown implements Mounter. The rmdir is best-effort: a mount point that
// pre-existed with other content simply stays.
func (RealMounter) Teardown(m Mount) error {
	if !m.OwnsMount {
		return nil
	}

	if err := mount.Unmount(m.MountPoint); err != nil {
		return fmt.Errorf("esp: unmount %s: %w", m.MountPoint, err)
	}

	_ = os.Remove(m.MountPoint)

	return nil
}
