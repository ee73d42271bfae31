package daemonconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallorange/bolt/internal/daemonconfig"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := daemonconfig.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, daemonconfig.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boltd.yaml")
	contents := "store_dir: /custom/store\nlog_level: debug\nworkers: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := daemonconfig.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/custom/store", cfg.StoreDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, daemonconfig.Default().DebugListen, cfg.DebugListen)
}
