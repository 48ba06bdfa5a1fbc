package activate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// legacyMarker is the kernel cmdline token that gates the legacy bootloader
// compatibility path.
const legacyMarker = "cros_legacy"

// defaultMarkerToken guards against clobbering an existing syslinux default
// config: one that already carries this token is left unchanged.
const defaultMarkerToken = "# managed-by-update-engine"

// CmdlineLegacyWriter reads /proc/cmdline to decide whether legacy loader
// files are needed, and writes them via plain os file writes: these are
// small, fixed-format text configs, not a byte-stream transfer, so they
// don't go through the iosink Sink contract the Download Stage uses.
type CmdlineLegacyWriter struct {
	CmdlinePath string
}

// NewCmdlineLegacyWriter returns a CmdlineLegacyWriter reading from the
// standard /proc/cmdline path.
func NewCmdlineLegacyWriter() *CmdlineLegacyWriter {
	return &CmdlineLegacyWriter{CmdlinePath: "/proc/cmdline"}
}

// HasLegacyMarker implements LegacyWriter.
func (w *CmdlineLegacyWriter) HasLegacyMarker() bool {
	data, err := os.ReadFile(w.CmdlinePath) //nolint:gosec // fixed kernel-exposed path
	if err != nil {
		return false
	}

	for _, field := range strings.Fields(string(data)) {
		if field == legacyMarker {
			return true
		}
	}

	return false
}

// WriteLegacy implements LegacyWriter.
func (w *CmdlineLegacyWriter) WriteLegacy(espMountPoint string, slot Identity) error {
	syslinuxDir := filepath.Join(espMountPoint, "syslinux")
	if err := os.MkdirAll(syslinuxDir, 0o755); err != nil {
		return fmt.Errorf("legacy: mkdir syslinux: %w", err)
	}

	grubDir := filepath.Join(espMountPoint, "boot", "grub")
	if err := os.MkdirAll(grubDir, 0o755); err != nil {
		return fmt.Errorf("legacy: mkdir grub: %w", err)
	}

	vmlinuzLink := filepath.Join(syslinuxDir, fmt.Sprintf("vmlinuz.%s", slot))
	if err := os.WriteFile(vmlinuzLink, []byte(kernelName(slot)+"\n"), 0o644); err != nil {
		return fmt.Errorf("legacy: write %s: %w", vmlinuzLink, err)
	}

	rootCfg := filepath.Join(syslinuxDir, fmt.Sprintf("root.%s.cfg", slot))
	rootCfgBody := fmt.Sprintf("APPEND root=LABEL=ROOT-%s\n", strings.ToUpper(slot.String()))

	if err := os.WriteFile(rootCfg, []byte(rootCfgBody), 0o644); err != nil {
		return fmt.Errorf("legacy: write %s: %w", rootCfg, err)
	}

	menuLst := filepath.Join(grubDir, "menu.lst")
	menuBody := fmt.Sprintf("default 0\ntimeout 0\ntitle coreos (%s)\nkernel /%s\n", slot, kernelName(slot))

	if err := os.WriteFile(menuLst, []byte(menuBody), 0o644); err != nil {
		return fmt.Errorf("legacy: write %s: %w", menuLst, err)
	}

	defaultCfg := filepath.Join(syslinuxDir, "default.cfg")

	existing, err := os.ReadFile(defaultCfg) //nolint:gosec // fixed ESP-relative path
	if err == nil && strings.Contains(string(existing), defaultMarkerToken) {
		return nil
	}

	defaultBody := fmt.Sprintf("%s\nDEFAULT root.%s.cfg\n", defaultMarkerToken, slot)
	if err := os.WriteFile(defaultCfg, []byte(defaultBody), 0o644); err != nil {
		return fmt.Errorf("legacy: write %s: %w", defaultCfg, err)
	}

	return nil
}
