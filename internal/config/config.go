// Package config persists the application's bridge credentials and
// tuning in a versioned JSON file under the user's config directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/angristan/huestatus/internal/api"
)

// Version is the format written by this build.
const Version = "1.2"

// compatibleVersions are formats Load accepts; older ones are migrated
// forward on the next Save.
var compatibleVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
	"1.2": true,
}

// Bridge holds the paired bridge's address and credentials.
type Bridge struct {
	// IP is the bridge address, host or host:port.
	IP string `json:"ip"`
	// ApplicationKey is the username issued during pairing.
	ApplicationKey string `json:"application_key"`
	// LastVerified is when connectivity was last confirmed.
	LastVerified time.Time `json:"last_verified,omitempty"`
	// CapabilitiesCache holds the last capability snapshot.
	CapabilitiesCache *CapabilitiesCache `json:"capabilities_cache,omitempty"`
}

// CapabilitiesCache is a timestamped copy of the bridge's limits.
type CapabilitiesCache struct {
	Capabilities api.Capabilities `json:"capabilities"`
	CachedAt     time.Time        `json:"cached_at"`
}

// SceneRef ties a status to its bridge-side scene.
type SceneRef struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AutoCreated   bool      `json:"auto_created"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

// Scenes holds both status scenes.
type Scenes struct {
	Success SceneRef `json:"success"`
	Failure SceneRef `json:"failure"`
}

// Settings are user-tunable behavior knobs.
type Settings struct {
	TimeoutSeconds          int  `json:"timeout_seconds"`
	RetryAttempts           int  `json:"retry_attempts"`
	RetryDelaySeconds       int  `json:"retry_delay_seconds"`
	VerboseLogging          bool `json:"verbose_logging"`
	QuietMode               bool `json:"quiet_mode"`
	AutoRefreshScenes       bool `json:"auto_refresh_scenes"`
	ValidateScenesOnStartup bool `json:"validate_scenes_on_startup"`
}

// Advanced are knobs most users never touch.
type Advanced struct {
	CacheDurationMinutes         int `json:"cache_duration_minutes"`
	SceneValidationIntervalHours int `json:"scene_validation_interval_hours"`
}

// Config is the full persisted state.
type Config struct {
	Version  string   `json:"version"`
	Bridge   Bridge   `json:"bridge"`
	Scenes   Scenes   `json:"scenes"`
	Settings Settings `json:"settings"`
	Advanced Advanced `json:"advanced"`
}

// defaultSettings are applied to new configs and to loaded configs
// whose fields are zero.
func defaultSettings() Settings {
	return Settings{
		TimeoutSeconds:    10,
		RetryAttempts:     3,
		RetryDelaySeconds: 1,
		AutoRefreshScenes: true,
	}
}

func defaultAdvanced() Advanced {
	return Advanced{
		CacheDurationMinutes:         30,
		SceneValidationIntervalHours: 24,
	}
}

// New creates a config for a freshly paired bridge.
func New(ip, applicationKey string) *Config {
	return &Config{
		Version: Version,
		Bridge: Bridge{
			IP:             ip,
			ApplicationKey: applicationKey,
			LastVerified:   time.Now(),
		},
		Settings: defaultSettings(),
		Advanced: defaultAdvanced(),
	}
}

// Dir returns the configuration directory, honoring
// HUESTATUS_CONFIG_DIR and XDG_CONFIG_HOME.
func Dir() (string, error) {
	if dir := os.Getenv("HUESTATUS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "huestatus"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &api.Error{Kind: api.KindConfig, Op: "config dir", Reason: "cannot determine home directory", Err: err}
	}
	return filepath.Join(home, ".config", "huestatus"), nil
}

// Path returns the full path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Exists reports whether a config file is present.
func Exists() bool {
	path, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads, migrates, defaults, and applies environment overrides to
// the persisted config.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &api.Error{
				Kind:   api.KindConfig,
				Op:     "load config",
				Reason: "no configuration found, run with -setup first",
			}
		}
		return nil, &api.Error{Kind: api.KindConfig, Op: "load config", Reason: "reading " + path, Err: err}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &api.Error{
			Kind:   api.KindConfig,
			Op:     "load config",
			Reason: "configuration file is corrupt, re-run setup",
			Err:    err,
		}
	}

	if !compatibleVersions[cfg.Version] {
		return nil, &api.Error{
			Kind:   api.KindConfig,
			Op:     "load config",
			Reason: fmt.Sprintf("unsupported config version %q, re-run setup", cfg.Version),
		}
	}
	cfg.migrate()
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// migrate lifts older formats to the current version. Versions 1.0 and
// 1.1 only lacked fields that applyDefaults fills in.
func (c *Config) migrate() {
	c.Version = Version
}

func (c *Config) applyDefaults() {
	def := defaultSettings()
	if c.Settings.TimeoutSeconds <= 0 {
		c.Settings.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.Settings.RetryAttempts <= 0 {
		c.Settings.RetryAttempts = def.RetryAttempts
	}
	if c.Settings.RetryDelaySeconds <= 0 {
		c.Settings.RetryDelaySeconds = def.RetryDelaySeconds
	}
	adv := defaultAdvanced()
	if c.Advanced.CacheDurationMinutes <= 0 {
		c.Advanced.CacheDurationMinutes = adv.CacheDurationMinutes
	}
	if c.Advanced.SceneValidationIntervalHours <= 0 {
		c.Advanced.SceneValidationIntervalHours = adv.SceneValidationIntervalHours
	}
}

// applyEnvOverrides lets HUESTATUS_* variables win over the file for
// one-off runs.
func (c *Config) applyEnvOverrides() {
	if ip := os.Getenv("HUESTATUS_BRIDGE_IP"); ip != "" {
		c.Bridge.IP = ip
	}
	if timeout := os.Getenv("HUESTATUS_TIMEOUT"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil && secs > 0 {
			c.Settings.TimeoutSeconds = secs
		}
	}
	if verbose := os.Getenv("HUESTATUS_VERBOSE"); verbose != "" {
		if v, err := strconv.ParseBool(verbose); err == nil {
			c.Settings.VerboseLogging = v
		}
	}
	if quiet := os.Getenv("HUESTATUS_QUIET"); quiet != "" {
		if q, err := strconv.ParseBool(quiet); err == nil {
			c.Settings.QuietMode = q
		}
	}
}

// Save writes the config with owner-only permissions, since it holds
// the application key.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &api.Error{Kind: api.KindConfig, Op: "save config", Reason: "creating " + dir, Err: err}
	}
	path, err := Path()
	if err != nil {
		return err
	}
	c.Version = Version
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return &api.Error{Kind: api.KindConfig, Op: "save config", Reason: "encoding config", Err: err}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return &api.Error{Kind: api.KindConfig, Op: "save config", Reason: "writing " + path, Err: err}
	}
	return nil
}

// Scene returns the stored scene reference for a status name
// ("success" or "failure").
func (c *Config) Scene(status string) *SceneRef {
	if status == "failure" {
		return &c.Scenes.Failure
	}
	return &c.Scenes.Success
}

// BridgeVerificationStale reports whether the bridge connection has not
// been confirmed within the validation interval.
func (c *Config) BridgeVerificationStale() bool {
	if c.Bridge.LastVerified.IsZero() {
		return true
	}
	interval := time.Duration(c.Advanced.SceneValidationIntervalHours) * time.Hour
	return time.Since(c.Bridge.LastVerified) > interval
}

// CapabilitiesCacheStale reports whether the cached capabilities are
// older than the cache duration.
func (c *Config) CapabilitiesCacheStale() bool {
	if c.Bridge.CapabilitiesCache == nil {
		return true
	}
	maxAge := time.Duration(c.Advanced.CacheDurationMinutes) * time.Minute
	return time.Since(c.Bridge.CapabilitiesCache.CachedAt) > maxAge
}

// SceneValidationStale reports whether the stored scenes are due for
// revalidation.
func (c *Config) SceneValidationStale() bool {
	interval := time.Duration(c.Advanced.SceneValidationIntervalHours) * time.Hour
	for _, ref := range []SceneRef{c.Scenes.Success, c.Scenes.Failure} {
		if ref.LastValidated.IsZero() || time.Since(ref.LastValidated) > interval {
			return true
		}
	}
	return false
}

// UpdateLastVerified marks the bridge connection as just confirmed.
func (c *Config) UpdateLastVerified() {
	c.Bridge.LastVerified = time.Now()
}

// UpdateCapabilitiesCache replaces the cached capability snapshot.
func (c *Config) UpdateCapabilitiesCache(caps api.Capabilities) {
	c.Bridge.CapabilitiesCache = &CapabilitiesCache{
		Capabilities: caps,
		CachedAt:     time.Now(),
	}
}

// UpdateSceneValidation marks both scenes as just validated.
func (c *Config) UpdateSceneValidation() {
	now := time.Now()
	c.Scenes.Success.LastValidated = now
	c.Scenes.Failure.LastValidated = now
}

// ClientConfig derives the API client settings from the stored config.
func (c *Config) ClientConfig() api.ClientConfig {
	return api.ClientConfig{
		Host:          c.Bridge.IP,
		Username:      c.Bridge.ApplicationKey,
		Timeout:       time.Duration(c.Settings.TimeoutSeconds) * time.Second,
		RetryAttempts: c.Settings.RetryAttempts,
		RetryDelay:    time.Duration(c.Settings.RetryDelaySeconds) * time.Second,
	}
}
