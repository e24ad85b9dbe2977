package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackson-sweet/opsapp-sub000/internal/gesture"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.RetryInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, gesture.DefaultGeometry, cfg.Geometry)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OPSYNC_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("nope.yaml")
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "custom.yaml", `
database: /var/lib/opsync/local.db
remote_url: https://api.example.test
role: fieldCrew
tutorial: true
sync:
  timeout: 2s
  workers: 8
geometry:
  width: 400
  height: 800
  edge_width: 60
  archive_width: 150
  archive_height: 100
gesture:
  press_duration: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/opsync/local.db", cfg.Database)
	assert.Equal(t, "https://api.example.test", cfg.RemoteURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.RetryInterval, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, 60.0, cfg.Geometry.EdgeWidth)
	assert.Equal(t, 250*time.Millisecond, cfg.Gesture.PressDuration)

	role, mode := cfg.Session()
	assert.Equal(t, ir.RoleFieldCrew, role)
	assert.True(t, mode.Tutorial)

	rc := cfg.ResolverConfig()
	assert.Equal(t, 250*time.Millisecond, rc.PressDuration)
	assert.Equal(t, cfg.Geometry, rc.Geometry)
}

func TestLoad_ConfigFromEnvironmentPath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "elsewhere.yaml", "role: officeCrew\n")
	t.Setenv("OPSYNC_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "officeCrew", cfg.Role)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "opsync.yaml", "role: officeCrew\nsync:\n  workers: 2\n")
	t.Setenv("OPSYNC_ROLE", "admin")
	t.Setenv("OPSYNC_SYNC_WORKERS", "6")
	t.Setenv("OPSYNC_SYNC_DEBOUNCE", "1s")
	t.Setenv("OPSYNC_TUTORIAL", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Role)
	assert.Equal(t, 6, cfg.Sync.Workers)
	assert.Equal(t, time.Second, cfg.Sync.Debounce)
	assert.True(t, cfg.Tutorial)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "OPSYNC_REMOTE_URL=http://localhost:9090\n")
	t.Setenv("OPSYNC_CONFIG", "")
	// godotenv never overrides variables that are already set, so make sure
	// this one is not, and clean up what Load sets.
	t.Setenv("OPSYNC_REMOTE_URL", "")
	require.NoError(t, os.Unsetenv("OPSYNC_REMOTE_URL"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9090", cfg.RemoteURL)
}

func TestLoad_BadEnvValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"OPSYNC_SYNC_TIMEOUT", "soon"},
		{"OPSYNC_SYNC_WORKERS", "many"},
		{"OPSYNC_TUTORIAL", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "bad.yaml", "sync: [unclosed\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown role", func(c *Config) { c.Role = "owner" }, "unknown role"},
		{"log level", func(c *Config) { c.LogLevel = "LOUD" }, "log level"},
		{"remote scheme", func(c *Config) { c.RemoteURL = "ftp://x" }, "remote_url"},
		{"zero timeout", func(c *Config) { c.Sync.Timeout = 0 }, "sync.timeout"},
		{"negative debounce", func(c *Config) { c.Sync.Debounce = -time.Second }, "sync.debounce"},
		{"no workers", func(c *Config) { c.Sync.Workers = 0 }, "sync.workers"},
		{"dead zone", func(c *Config) { c.Gesture.DeadZone = -1 }, "dead_zone"},
		{"edge too wide", func(c *Config) { c.Geometry.EdgeWidth = c.Geometry.Width }, "geometry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
