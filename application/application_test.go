package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/formpack-go/pkg/formpack"
)

const sampleConfig = `
log:
  level: warn
server:
  endpoint: ":9000"
unpack:
  uploadDir: /var/formpack
  hash: sha256
  maxFileSize: 1048576
  jsonField: __payload
  tokenPrefix: __att_
client:
  timeout: 5s
  contentEncoding: zstd
logging:
  transport:
    level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "formpack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	app := New()
	require.NoError(t, app.Load(writeConfig(t, sampleConfig)))

	cfg := app.Config()
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Endpoint)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, "/var/formpack", cfg.Unpack.UploadDir)
	assert.Equal(t, "sha256", cfg.Unpack.Hash)
	assert.EqualValues(t, 1<<20, cfg.Unpack.MaxFileSize)
	assert.EqualValues(t, 20<<20, cfg.Unpack.MaxJSONSize)
	assert.Equal(t, formpack.Protocol{JSONField: "__payload", TokenPrefix: "__att_"}, cfg.Unpack.Protocol())
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Client.RetrySleep)
	assert.Equal(t, "zstd", cfg.Client.ContentEncoding)

	assert.NotNil(t, app.Logger("transport"))
	assert.NotNil(t, app.Logger("unknown"))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(configPathEnv, "")

	app := New()
	require.NoError(t, app.Load(""))
	assert.Equal(t, ":8080", app.Config().Server.Endpoint)
	assert.Equal(t, formpack.Protocol{}, app.Config().Unpack.Protocol())

	_, err := formpack.NewUnpacker(app.Config().Unpack.Options()...)
	assert.NoError(t, err)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	app := New()
	assert.Error(t, app.Load(filepath.Join(t.TempDir(), "missing.yaml")))

	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, New().Load(""))
}

func TestEnvAndFlagOverride(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("FORMPACK_SERVER_ENDPOINT", ":7000")
	t.Setenv("FORMPACK_UNPACK_HASH", "md5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("hash", "", "")
	require.NoError(t, flags.Parse([]string{"--hash=blake3"}))

	app := New()
	require.NoError(t, app.BindFlags(flags, map[string]string{"hash": "unpack.hash", "absent": "server.path"}))
	require.NoError(t, app.Load(path))

	assert.Equal(t, ":7000", app.Config().Server.Endpoint)
	assert.Equal(t, "blake3", app.Config().Unpack.Hash)
}

func TestConfigPathFromArgs(t *testing.T) {
	path, err := configPathFromArgs([]string{"serve", "--config", "a.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", path)

	path, err = configPathFromArgs([]string{"--config=b.json"})
	require.NoError(t, err)
	assert.Equal(t, "b.json", path)

	_, err = configPathFromArgs([]string{"--config"})
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
