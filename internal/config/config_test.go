package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/config"
)

func TestLoad_DefaultsWhenNoFiles(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()

	cfg, err := config.Load(workDir, "", nil)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	path := filepath.Join(workDir, config.FileName)

	body := `{
		// jsonc comments are fine
		"esp_mount_point": "/custom/efi",
		"chunk_max": 4096,
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(workDir, "", nil)
	require.NoError(t, err)
	require.Equal(t, "/custom/efi", cfg.ESPMountPoint)
	require.Equal(t, 4096, cfg.ChunkMax)
	require.Equal(t, config.DefaultConfig().GPTToolPath, cfg.GPTToolPath)
}

func TestLoad_ExplicitConfigPathMustExist(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()

	_, err := config.Load(workDir, "missing.json", nil)
	require.Error(t, err)
}

func TestLoad_InvalidJSONIsRejected(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	path := filepath.Join(workDir, config.FileName)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := config.Load(workDir, "", nil)
	require.ErrorIs(t, err, config.ErrConfigInvalid)
}
