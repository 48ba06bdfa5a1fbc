// Package config loads updateengined's configuration with a layered
// precedence chain: defaults, then a global user file, then a
// project/explicit file — each layer merging non-zero fields over the
// previous one. There is no per-field CLI override layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds the updater's tunables.
type Config struct {
	// ChunkMax bounds fetcher chunk size in bytes; zero means use the
	// package default.
	ChunkMax int `json:"chunk_max,omitempty"` //nolint:tagliatelle
	// ESPCandidates lists the block devices scanned for the EFI System
	// Partition.
	ESPCandidates []string `json:"esp_candidates,omitempty"` //nolint:tagliatelle
	// ESPMountPoint is where the ESP is mounted (or found already mounted).
	ESPMountPoint string `json:"esp_mount_point,omitempty"` //nolint:tagliatelle
	// GPTToolPath is the path to the image-bundled GPT tool binary.
	GPTToolPath string `json:"gpt_tool_path,omitempty"` //nolint:tagliatelle
	// GPTToolLoader is the dynamic linker the GPT tool is invoked through,
	// so the tool's ABI requirements are satisfied by the new image's libc
	// rather than the host's. Empty execs the tool directly.
	GPTToolLoader string `json:"gpt_tool_loader,omitempty"` //nolint:tagliatelle
	// GPTToolLibPath is the library path handed to GPTToolLoader.
	GPTToolLibPath string `json:"gpt_tool_lib_path,omitempty"` //nolint:tagliatelle
	// VendorHookPath is the well-known path to the optional OEM hook
	// executable; empty means none configured.
	VendorHookPath string `json:"vendor_hook_path,omitempty"` //nolint:tagliatelle
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		ChunkMax:       64 * 1024,
		ESPCandidates:  []string{"/dev/sda", "/dev/sdb", "/dev/nvme0n1"},
		ESPMountPoint:  "/boot/efi",
		GPTToolPath:    "/usr/share/update_engine/cgpt",
		VendorHookPath: "/etc/update-engine/vendor-hook",
	}
}

// FileName is the default project config file name.
const FileName = "update-engine.json"

var errConfigFileNotFound = fmt.Errorf("config file not found")

// ErrConfigInvalid wraps a parse failure, naming the offending path.
var ErrConfigInvalid = fmt.Errorf("invalid config file")

// Load loads configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global config ($XDG_CONFIG_HOME/update-engine/config.json or
//     ~/.config/update-engine/config.json)
//  3. Project config file at workDir/update-engine.json, or an explicit
//     configPath if given
func Load(workDir, configPath string, env []string) (Config, error) {
	cfg := DefaultConfig()

	globalCfg, _, err := loadGlobal(env)
	if err != nil {
		return Config{}, err
	}

	cfg = merge(cfg, globalCfg)

	projectCfg, _, err := loadProject(workDir, configPath)
	if err != nil {
		return Config{}, err
	}

	cfg = merge(cfg, projectCfg)

	return cfg, nil
}

func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "update-engine", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "update-engine", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "update-engine", "config.json")
	}

	return ""
}

func loadGlobal(env []string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return Config{}, false, nil
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func merge(base, override Config) Config {
	if override.ChunkMax != 0 {
		base.ChunkMax = override.ChunkMax
	}

	if len(override.ESPCandidates) > 0 {
		base.ESPCandidates = override.ESPCandidates
	}

	if override.ESPMountPoint != "" {
		base.ESPMountPoint = override.ESPMountPoint
	}

	if override.GPTToolPath != "" {
		base.GPTToolPath = override.GPTToolPath
	}

	if override.GPTToolLoader != "" {
		base.GPTToolLoader = override.GPTToolLoader
	}

	if override.GPTToolLibPath != "" {
		base.GPTToolLibPath = override.GPTToolLibPath
	}

	if override.VendorHookPath != "" {
		base.VendorHookPath = override.VendorHookPath
	}

	return base
}
