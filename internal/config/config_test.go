package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/urlshield/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDefault_IsValid checks the built-in defaults pass validation.
func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, model.DefaultPort, cfg.Server.Port)
	assert.Equal(t, model.DefaultPartitions, cfg.Store.Partitions)
	assert.Equal(t, model.DefaultHashesPerIndex, cfg.Store.HashesPerIndex)
	assert.Equal(t, model.DefaultFalsePositiveRate, cfg.Client.FalsePositiveRate)
}

// TestLoad_YAML overlays a partial YAML file on the defaults.
func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "urlshield.yaml", `
server:
  port: 8080
  data_dir: /srv/urlshield
store:
  hashes_per_index: 1000
  sync_wal: true
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/srv/urlshield", cfg.Server.DataDir)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, 1000, cfg.Store.HashesPerIndex)
	assert.True(t, cfg.Store.SyncWAL)
	assert.Equal(t, model.DefaultPartitions, cfg.Store.Partitions)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoad_JSONC accepts comments and trailing commas.
func TestLoad_JSONC(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "urlshield.jsonc", `{
  // client settings
  "client": {
    "name": "alice",
    "port": 9000, /* non-default */
  },
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Client.Name)
	assert.Equal(t, 9000, cfg.Client.Port)
	assert.Equal(t, "localhost", cfg.Client.Host)
}

// TestLoad_Errors covers missing files, bad extensions and bad syntax.
func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitInvalidInput, cliErr.Code)

	_, err = Load(writeFile(t, dir, "urlshield.toml", "port = 1"))
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitInvalidInput, cliErr.Code)

	_, err = Load(writeFile(t, dir, "broken.yaml", "server: [unclosed"))
	assert.Error(t, err)
}

// TestApplyEnv overrides every kind of field.
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"URLSHIELD_SERVER_PORT":                "8123",
		"URLSHIELD_CLIENT_NAME":                "bob",
		"URLSHIELD_CLIENT_FALSE_POSITIVE_RATE": "0.01",
		"URLSHIELD_STORE_SYNC_WAL":             "true",
		"URLSHIELD_LOG_FORMAT":                 "json",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "bob", cfg.Client.Name)
	assert.Equal(t, 0.01, cfg.Client.FalsePositiveRate)
	assert.True(t, cfg.Store.SyncWAL)
	assert.Equal(t, "json", cfg.Log.Format)

	env["URLSHIELD_STORE_PARTITIONS"] = "four"
	assert.Error(t, Default().ApplyEnv(lookup))
}

// TestLoad_DotEnvNextToConfig picks up .env beside the config file without
// overriding variables already set.
func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "urlshield.yaml", "log:\n  level: warn\n")
	writeFile(t, dir, ".env", "URLSHIELD_CLIENT_NAME=fromdotenv\nURLSHIELD_CLIENT_HOST=dotenv.example\n")

	// Register cleanup for both keys, then make sure they start unset.
	t.Setenv("URLSHIELD_CLIENT_NAME", "")
	require.NoError(t, os.Unsetenv("URLSHIELD_CLIENT_NAME"))
	t.Setenv("URLSHIELD_CLIENT_HOST", "preset.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromdotenv", cfg.Client.Name)
	assert.Equal(t, "preset.example", cfg.Client.Host)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestValidate reports every invalid field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero partitions", func(c *Config) { c.Store.Partitions = 0 }},
		{"too many partitions", func(c *Config) { c.Store.Partitions = 257 }},
		{"zero hashes per index", func(c *Config) { c.Store.HashesPerIndex = 0 }},
		{"rate zero", func(c *Config) { c.Client.FalsePositiveRate = 0 }},
		{"rate one", func(c *Config) { c.Client.FalsePositiveRate = 1 }},
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"client port", func(c *Config) { c.Client.Port = 0 }},
		{"bad name", func(c *Config) { c.Client.Name = "a/b" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty data dir", func(c *Config) { c.Server.DataDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var cliErr *model.CLIError
			require.True(t, errors.As(err, &cliErr))
			assert.Equal(t, model.ExitInvalidInput, cliErr.Code)
		})
	}

	// Port 0 means "pick one" for the server.
	cfg := Default()
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())
}

// TestParseLevel maps names to slog levels.
func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
