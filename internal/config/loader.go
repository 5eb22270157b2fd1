// Package config loads wsfetch configuration.
//
// Precedence, highest first: runtime overrides, WSFETCH_* environment
// variables, the config file, built-in defaults. A .env file in the working
// directory is loaded into the environment before anything else.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Identity names the application for env vars and on-disk paths.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity used when none has been set.
func DefaultIdentity() Identity {
	return Identity{BinaryName: "wsfetch", EnvPrefix: "WSFETCH", ConfigName: "wsfetch"}
}

// Config is the fully resolved configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Health   HealthConfig   `mapstructure:"health"`
}

// EngineConfig locates the engine executable.
type EngineConfig struct {
	// Path overrides the extracted engine. Empty uses <data_dir>/engine.
	Path string `mapstructure:"path"`
}

// WorkerConfig tunes the download loop.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Hoist        bool          `mapstructure:"hoist"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects the log level and encoding profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetadataConfig tunes workshop page fetches.
type MetadataConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	UserAgent string        `mapstructure:"user_agent"`
}

// MirrorConfig enables the S3 archive of completed installs.
type MirrorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Bucket         string   `mapstructure:"bucket"`
	Prefix         string   `mapstructure:"prefix"`
	Region         string   `mapstructure:"region"`
	Endpoint       string   `mapstructure:"endpoint"`
	Profile        string   `mapstructure:"profile"`
	ForcePathStyle bool     `mapstructure:"force_path_style"`
	DetectRegion   bool     `mapstructure:"detect_region"`
	Include        []string `mapstructure:"include"`
	Exclude        []string `mapstructure:"exclude"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EnvSpec binds one environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	configFile  string
)

// SetIdentity replaces the application identity used by Load.
func SetIdentity(id Identity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// GetIdentity returns the current identity, or nil before Load/SetIdentity.
func GetIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return nil
	}
	id := *appIdentity
	return &id
}

// SetConfigFile pins an explicit config file. Empty restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("engine.path", "")

	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.hoist", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metadata.timeout", "15s")
	v.SetDefault("metadata.rate_limit", 1.0)
	v.SetDefault("metadata.user_agent", "Mozilla/5.0")

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("mirror.region", "")
	v.SetDefault("mirror.endpoint", "")
	v.SetDefault("mirror.profile", "")
	v.SetDefault("mirror.force_path_style", false)
	v.SetDefault("mirror.detect_region", false)
	v.SetDefault("mirror.include", []string{})
	v.SetDefault("mirror.exclude", []string{})

	v.SetDefault("health.enabled", true)
}

// Load resolves configuration and stores it for GetConfig. Each override map
// is nested like the config file, e.g. {"server": {"port": 9000}}.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity()
		appIdentity = &id
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	// Set sits above env in viper's precedence; MergeConfigMap would not.
	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = gfconfig.GetAppDataDir(appIdentity.ConfigName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects values the rest of the program cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be positive"))
	}
	if c.Metadata.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("metadata.rate_limit must not be negative"))
	}
	if c.Mirror.Enabled && strings.TrimSpace(c.Mirror.Bucket) == "" {
		errs = append(errs, fmt.Errorf("mirror.bucket is required when mirror.enabled is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	paths := getUserConfigPaths()
	if len(paths) == 0 {
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths lists config directories in search order. Callers hold
// configMu.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appIdentity.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+appIdentity.ConfigName))
	}
	return paths
}

// getEnvSpecs lists every supported environment variable. Callers hold
// configMu.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	p := appIdentity.EnvPrefix + "_"
	return []EnvSpec{
		{Name: p + "DATA_DIR", Path: "data_dir"},
		{Name: p + "ENGINE_PATH", Path: "engine.path"},
		{Name: p + "POLL_INTERVAL", Path: "worker.poll_interval"},
		{Name: p + "HOIST", Path: "worker.hoist"},
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "METADATA_TIMEOUT", Path: "metadata.timeout"},
		{Name: p + "METADATA_RATE_LIMIT", Path: "metadata.rate_limit"},
		{Name: p + "USER_AGENT", Path: "metadata.user_agent"},
		{Name: p + "MIRROR_ENABLED", Path: "mirror.enabled"},
		{Name: p + "MIRROR_BUCKET", Path: "mirror.bucket"},
		{Name: p + "MIRROR_PREFIX", Path: "mirror.prefix"},
		{Name: p + "MIRROR_REGION", Path: "mirror.region"},
		{Name: p + "MIRROR_ENDPOINT", Path: "mirror.endpoint"},
		{Name: p + "MIRROR_PROFILE", Path: "mirror.profile"},
		{Name: p + "MIRROR_FORCE_PATH_STYLE", Path: "mirror.force_path_style"},
		{Name: p + "MIRROR_DETECT_REGION", Path: "mirror.detect_region"},
		{Name: p + "MIRROR_INCLUDE", Path: "mirror.include"},
		{Name: p + "MIRROR_EXCLUDE", Path: "mirror.exclude"},
		{Name: p + "HEALTH_ENABLED", Path: "health.enabled"},
	}
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}
