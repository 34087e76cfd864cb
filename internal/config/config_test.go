package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/angristan/huestatus/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HUESTATUS_CONFIG_DIR", dir)
	return dir
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	useTempConfigDir(t)

	cfg := New("192.168.1.10", "secret-key")
	cfg.Scenes.Success = SceneRef{ID: "s1", Name: "huestatus-success"}
	cfg.Scenes.Failure = SceneRef{ID: "s2", Name: "huestatus-failure"}
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, "192.168.1.10", loaded.Bridge.IP)
	assert.Equal(t, "secret-key", loaded.Bridge.ApplicationKey)
	assert.Equal(t, "s1", loaded.Scenes.Success.ID)
	assert.Equal(t, "s2", loaded.Scenes.Failure.ID)
	assert.Equal(t, 10, loaded.Settings.TimeoutSeconds)
	assert.True(t, loaded.Settings.AutoRefreshScenes)
}

func TestSavePermissions(t *testing.T) {
	dir := useTempConfigDir(t)

	cfg := New("192.168.1.10", "secret-key")
	require.NoError(t, cfg.Save())

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "the file holds credentials")
}

func TestLoadMissingConfig(t *testing.T) {
	useTempConfigDir(t)

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, api.KindConfig, api.KindOf(err))
	assert.Contains(t, err.Error(), "setup")
}

func TestLoadCorruptConfig(t *testing.T) {
	dir := useTempConfigDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0600))

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, api.KindConfig, api.KindOf(err))
}

func TestLoadMigratesOldVersions(t *testing.T) {
	dir := useTempConfigDir(t)
	old := `{"version":"1.0","bridge":{"ip":"192.168.1.10","application_key":"k"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(old), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
	// Fields the old format lacked pick up defaults.
	assert.Equal(t, 10, cfg.Settings.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Settings.RetryAttempts)
	assert.Equal(t, 30, cfg.Advanced.CacheDurationMinutes)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	dir := useTempConfigDir(t)
	future := `{"version":"9.0","bridge":{"ip":"192.168.1.10"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(future), 0600))

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, api.KindConfig, api.KindOf(err))
}

func TestEnvOverrides(t *testing.T) {
	useTempConfigDir(t)
	cfg := New("192.168.1.10", "k")
	require.NoError(t, cfg.Save())

	t.Setenv("HUESTATUS_BRIDGE_IP", "10.0.0.5")
	t.Setenv("HUESTATUS_TIMEOUT", "25")
	t.Setenv("HUESTATUS_VERBOSE", "true")
	t.Setenv("HUESTATUS_QUIET", "1")

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", loaded.Bridge.IP)
	assert.Equal(t, 25, loaded.Settings.TimeoutSeconds)
	assert.True(t, loaded.Settings.VerboseLogging)
	assert.True(t, loaded.Settings.QuietMode)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	useTempConfigDir(t)
	cfg := New("192.168.1.10", "k")
	require.NoError(t, cfg.Save())

	t.Setenv("HUESTATUS_TIMEOUT", "not-a-number")

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Settings.TimeoutSeconds)
}

func TestStaleness(t *testing.T) {
	cfg := New("192.168.1.10", "k")

	assert.False(t, cfg.BridgeVerificationStale(), "New marks the bridge as just verified")
	cfg.Bridge.LastVerified = time.Now().Add(-48 * time.Hour)
	assert.True(t, cfg.BridgeVerificationStale())

	assert.True(t, cfg.CapabilitiesCacheStale(), "no cache means stale")
	cfg.UpdateCapabilitiesCache(api.Capabilities{})
	assert.False(t, cfg.CapabilitiesCacheStale())
	cfg.Bridge.CapabilitiesCache.CachedAt = time.Now().Add(-time.Hour)
	assert.True(t, cfg.CapabilitiesCacheStale())

	assert.True(t, cfg.SceneValidationStale(), "never-validated scenes are stale")
	cfg.UpdateSceneValidation()
	assert.False(t, cfg.SceneValidationStale())
	cfg.Scenes.Failure.LastValidated = time.Now().Add(-25 * time.Hour)
	assert.True(t, cfg.SceneValidationStale(), "one stale scene makes the pair stale")
}

func TestSceneByStatus(t *testing.T) {
	cfg := New("192.168.1.10", "k")
	cfg.Scenes.Success.ID = "s1"
	cfg.Scenes.Failure.ID = "s2"

	assert.Equal(t, "s1", cfg.Scene("success").ID)
	assert.Equal(t, "s2", cfg.Scene("failure").ID)
}

func TestClientConfig(t *testing.T) {
	cfg := New("192.168.1.10", "secret-key")
	cfg.Settings.TimeoutSeconds = 7
	cfg.Settings.RetryAttempts = 5
	cfg.Settings.RetryDelaySeconds = 2

	cc := cfg.ClientConfig()
	assert.Equal(t, "192.168.1.10", cc.Host)
	assert.Equal(t, "secret-key", cc.Username)
	assert.Equal(t, 7*time.Second, cc.Timeout)
	assert.Equal(t, 5, cc.RetryAttempts)
	assert.Equal(t, 2*time.Second, cc.RetryDelay)
}

func TestExists(t *testing.T) {
	useTempConfigDir(t)
	assert.False(t, Exists())

	require.NoError(t, New("192.168.1.10", "k").Save())
	assert.True(t, Exists())
}
