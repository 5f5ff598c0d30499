package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartar/server/internal/compare"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	cfg := loadFromString(t, `
server:
  port: 9000
data:
  path: "/data/cartar.sqlite"
  gtex_tissues:
    SKCM: Skin
compare:
  min_group_size: 2
  method: exact
`)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/data/cartar.sqlite", cfg.Data.Path)
	assert.Equal(t, "sqlite", cfg.Data.Backend)
	assert.Equal(t, map[string]string{"SKCM": "Skin"}, cfg.Data.GTExTissues)
	assert.Equal(t, DefaultConfig().Server.CORSOrigins, cfg.Server.CORSOrigins)
	assert.Equal(t, 800, cfg.Render.Width)
	assert.Equal(t, 7, cfg.Screen.RetentionDays)
	assert.Equal(t, "info", cfg.Log.Level)

	opts := cfg.CompareOptions()
	assert.Equal(t, compare.MethodExact, opts.Method)
	assert.Equal(t, 2, opts.MinGroupSize)
	assert.False(t, opts.Continuity)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, compare.MethodAsymptotic, cfg.CompareOptions().Method)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CARTAR_PORT", "9100")
	t.Setenv("CARTAR_DATA_PATH", "/srv/expr.db")
	t.Setenv("CARTAR_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CARTAR_LOG_LEVEL", "debug")
	t.Setenv("CARTAR_LOG_JSON", "true")

	cfg := loadFromString(t, "server:\n  port: 9000\n")
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/srv/expr.db", cfg.Data.Path)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"badMethod":  "compare:\n  method: bootstrap\n",
		"badBackend": "data:\n  backend: oracle\n",
		"badYAML":    "server: [\n",
		"badPort":    "server:\n  port: 70000\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "server.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	t.Run("badEnvPort", func(t *testing.T) {
		t.Setenv("CARTAR_PORT", "eighty")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CARTAR_TEST_LOADENV=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("CARTAR_TEST_LOADENV") })

	require.NoError(t, LoadEnv(envFile, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("CARTAR_TEST_LOADENV"))
}
