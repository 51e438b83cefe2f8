package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serveConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	MaxFileSize int64  `mapstructure:"max-file-size"`
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serve:\n  endpoint: \":9000\"\n  max-file-size: 1024\n"), 0o600))

	t.Setenv("FPTEST_SERVE_MAX_FILE_SIZE", "2048")

	c := New("FPTEST")
	c.SetDefault("serve.max-file-size", 0)
	require.NoError(t, c.LoadFile(path))

	var cfg serveConfig
	require.NoError(t, c.UnmarshalKey("serve", &cfg))
	assert.Equal(t, ":9000", cfg.Endpoint)
	assert.Equal(t, int64(2048), c.GetInt64("serve.max-file-size"))
}
