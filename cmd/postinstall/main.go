// postinstall is the finalizer executable: invoked as
// `postinstall <target_device> KERNEL=<kernel_name> [KEY=VALUE ...]`. It
// derives the slot from the device's GPT label, stages the kernel, runs the
// vendor hook, and marks the slot bootable via the GPT tool. It never
// partially commits: Prioritize is always the last mutation performed.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/activate"
	"github.com/coreos/update-engine/internal/esp"
	"github.com/coreos/update-engine/internal/execwrap"
	"github.com/coreos/update-engine/internal/gpttool"
	"github.com/coreos/update-engine/internal/remediation"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "error: usage: postinstall <target_device> KERNEL=<name> [KEY=VALUE ...]")

		return 1
	}

	device := args[1]
	kv := parseTokens(args[2:])

	installTreeRoot := kv["INSTALL_TREE"]
	if installTreeRoot == "" {
		installTreeRoot = "/"
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	execer := execwrap.NewReal()

	stager := activate.NewAtomicKernelStager()
	if kernel := kv["KERNEL"]; kernel != "" {
		stager.SourceRelPath = filepath.Join("boot", kernel)
	}

	toolPath, loader, libPath := imageGPTTool(installTreeRoot)

	deps := activate.NewDeps(activate.Deps{
		GPTReader:    esp.NewPartLabelReader(),
		ESPLocator:   esp.NewDiskfsLocator(),
		ESPMounter:   esp.NewRealMounter(),
		KernelStager: stager,
		VendorHook:   activate.NewExecVendorHook(defaultVendorHookPath, execer),
		Legacy:       activate.NewCmdlineLegacyWriter(),
		GPTTool:      gpttool.New(execer, toolPath, loader, libPath),
		Remediations: remediation.NewRegistry(),
		Log:          log,
	})

	ctx := context.Background()

	if err := activate.Activate(ctx, deps, device, installTreeRoot, defaultESPCandidates(), defaultESPMountPoint); err != nil {
		fmt.Fprintln(os.Stderr, "postinstall:", err)

		return 1
	}

	return 0
}

// defaultGPTToolPath and defaultVendorHookPath are the well-known image
// paths for the image-bundled tool and OEM hook.
const (
	defaultGPTToolPath    = "/usr/share/update_engine/cgpt"
	defaultVendorHookPath = "/etc/update-engine/vendor-hook"
	defaultESPMountPoint  = "/boot/efi"
)

func defaultESPCandidates() []string {
	return []string{"/dev/sda", "/dev/sdb", "/dev/nvme0n1"}
}

// imageGPTTool resolves the GPT tool invocation for the install tree: when
// the tree bundles its own dynamic linker, the tool (the tree's copy if it
// has one, else the host path) is run through that linker, so its ABI
// requirements are satisfied by the
// new image's libc rather than the host's. A tree without a bundled loader
// falls back to a direct exec of the host's copy.
func imageGPTTool(installTreeRoot string) (tool, loader, libPath string) {
	candidate := filepath.Join(installTreeRoot, "lib64", "ld-linux-x86-64.so.2")

	info, err := os.Stat(candidate)
	if err != nil || info.Mode()&0o111 == 0 {
		return defaultGPTToolPath, "", ""
	}

	tool = defaultGPTToolPath
	if bundled := filepath.Join(installTreeRoot, defaultGPTToolPath); statIsFile(bundled) {
		tool = bundled
	}

	return tool, candidate, filepath.Join(installTreeRoot, "lib64")
}

func statIsFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// parseTokens splits "KEY=VALUE" argv tokens into a map; unrecognized
// tokens (those without "=") are ignored.
func parseTokens(tokens []string) map[string]string {
	kv := make(map[string]string, len(tokens))

	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}

		kv[key] = value
	}

	return kv
}
