// Package config loads hpcjobs configuration from defaults, a config file,
// environment variables and runtime overrides, in increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// AppIdentity names the application for config and env lookups.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity used when none has been set.
var DefaultIdentity = AppIdentity{
	BinaryName: "hpcjobs",
	EnvPrefix:  "HPCJOBS",
	ConfigName: "hpcjobs",
}

// Config is the resolved configuration.
type Config struct {
	Remote    RemoteConfig  `mapstructure:"remote"`
	Slurm     SlurmConfig   `mapstructure:"slurm"`
	Store     StoreConfig   `mapstructure:"store"`
	Server    ServerConfig  `mapstructure:"server"`
	Logging   LoggingConfig `mapstructure:"logging"`
	Retry     RetryConfig   `mapstructure:"retry"`
	Workers   int           `mapstructure:"workers"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// RemoteConfig is the SSH identity of the cluster login node.
type RemoteConfig struct {
	User                  string        `mapstructure:"user"`
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	KeyFile               string        `mapstructure:"key_file"`
	ProxyJump             string        `mapstructure:"proxy_jump"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
}

// SlurmConfig holds scheduler-side paths, timeouts and reason markers.
type SlurmConfig struct {
	JobsDir          string        `mapstructure:"jobs_dir"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	StatusTimeout    time.Duration `mapstructure:"status_timeout"`
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	CopyTimeout      time.Duration `mapstructure:"copy_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	TimeLimitMarkers []string      `mapstructure:"time_limit_markers"`
	OOMMarkers       []string      `mapstructure:"oom_markers"`
}

// StoreConfig locates the job store. An empty path uses the app data dir.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects level and encoder profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// RetryConfig is the caller-side retry policy for status queries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// SetIdentity sets the application identity used by Load.
func SetIdentity(id AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// SetConfigFile forces an explicit config file instead of the user default.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Defaults returns the default value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"remote.user":                     "",
		"remote.host":                     "",
		"remote.port":                     remote.DefaultPort,
		"remote.key_file":                 "~/.ssh/id_rsa",
		"remote.proxy_jump":               "",
		"remote.known_hosts_file":         "~/.ssh/known_hosts",
		"remote.insecure_ignore_host_key": false,
		"remote.connect_timeout":          "10s",
		"slurm.jobs_dir":                  "~/hpcjobs",
		"slurm.probe_timeout":             "15s",
		"slurm.status_timeout":            "10s",
		"slurm.submit_timeout":            "60s",
		"slurm.copy_timeout":              "60s",
		"slurm.poll_interval":             "60s",
		"slurm.time_limit_markers":        slurm.DefaultMarkers().TimeLimit,
		"slurm.oom_markers":               slurm.DefaultMarkers().OutOfMemory,
		"store.path":                      "",
		"server.host":                     "localhost",
		"server.port":                     8080,
		"server.read_timeout":             "30s",
		"server.write_timeout":            "30s",
		"server.idle_timeout":             "120s",
		"server.shutdown_timeout":         "10s",
		"logging.level":                   "info",
		"logging.profile":                 "structured",
		"workers":                         4,
		"rate_limit":                      0.0,
		"retry.max_attempts":              1,
		"retry.base_delay":                "2s",
		"retry.max_delay":                 "5m",
	}
}

// Load resolves configuration and caches it for GetConfig.
//
// Each override map is nested ("server": {"port": 9000}) and wins over
// every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecsLocked() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	appConfig = &cfg
	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}
	for _, p := range getUserConfigPathsLocked() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// envSpec maps one environment variable to a config path.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	configMu.RLock()
	defer configMu.RUnlock()
	return getEnvSpecsLocked()
}

func getEnvSpecsLocked() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}
	prefix := appIdentity.EnvPrefix + "_"

	keys := make([]string, 0, len(Defaults()))
	for key := range Defaults() {
		keys = append(keys, key)
	}

	specs := make([]envSpec, 0, len(keys)+8)
	for _, key := range keys {
		name := prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		specs = append(specs, envSpec{Name: name, Path: key})
	}

	// Short aliases for the keys operators set most.
	aliases := []envSpec{
		{Name: "HOST", Path: "server.host"},
		{Name: "PORT", Path: "server.port"},
		{Name: "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: "LOG_LEVEL", Path: "logging.level"},
		{Name: "LOG_PROFILE", Path: "logging.profile"},
		{Name: "JOBS_DIR", Path: "slurm.jobs_dir"},
		{Name: "STORE", Path: "store.path"},
	}
	for _, a := range aliases {
		specs = append(specs, envSpec{Name: prefix + a.Name, Path: a.Path})
	}
	return specs
}

func getUserConfigPaths() []string {
	configMu.RLock()
	defer configMu.RUnlock()
	return getUserConfigPathsLocked()
}

func getUserConfigPathsLocked() []string {
	if appIdentity == nil {
		return []string{}
	}
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appIdentity.ConfigName, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, appIdentity.ConfigName, "config.yaml")
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

// Markers returns the configured reason markers.
func (c *Config) Markers() slurm.Markers {
	return slurm.Markers{TimeLimit: c.Slurm.TimeLimitMarkers, OutOfMemory: c.Slurm.OOMMarkers}
}

// Validate checks value ranges. Remote fields are checked separately by
// ValidateRemote since local-only commands do not need them.
func (c *Config) Validate() error {
	var errs []error
	if c.Remote.Port < 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port %d out of range", c.Remote.Port))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	durations := map[string]time.Duration{
		"slurm.probe_timeout":  c.Slurm.ProbeTimeout,
		"slurm.status_timeout": c.Slurm.StatusTimeout,
		"slurm.submit_timeout": c.Slurm.SubmitTimeout,
		"slurm.copy_timeout":   c.Slurm.CopyTimeout,
		"slurm.poll_interval":  c.Slurm.PollInterval,
	}
	for _, key := range []string{"slurm.probe_timeout", "slurm.status_timeout", "slurm.submit_timeout", "slurm.copy_timeout", "slurm.poll_interval"} {
		if durations[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	switch c.Logging.Profile {
	case "STRUCTURED", "CONSOLE":
	default:
		errs = append(errs, fmt.Errorf("logging.profile %q must be structured or console", c.Logging.Profile))
	}
	return errors.Join(errs...)
}

// ErrRemoteNotConfigured indicates missing remote connection settings.
var ErrRemoteNotConfigured = errors.New("remote cluster not configured")

// ValidateRemote checks the settings needed to reach the cluster.
func (c *Config) ValidateRemote() error {
	var missing []string
	if strings.TrimSpace(c.Remote.User) == "" {
		missing = append(missing, "remote.user")
	}
	if strings.TrimSpace(c.Remote.Host) == "" {
		missing = append(missing, "remote.host")
	}
	if strings.TrimSpace(c.Remote.KeyFile) == "" {
		missing = append(missing, "remote.key_file")
	}
	if len(missing) > 0 {
		return fmt.Errorf(`%w: missing %s

Example config.yaml:
  remote:
    user: alice
    host: login.cluster.example.org
    key_file: ~/.ssh/id_ed25519
    proxy_jump: alice@gateway.example.org

or set HPCJOBS_REMOTE_USER and HPCJOBS_REMOTE_HOST`, ErrRemoteNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// RemoteIdentity builds the transport identity from the remote settings.
func (c *Config) RemoteIdentity() (remote.Identity, error) {
	if err := c.ValidateRemote(); err != nil {
		return remote.Identity{}, err
	}
	id := remote.Identity{
		User:                  strings.TrimSpace(c.Remote.User),
		Host:                  strings.TrimSpace(c.Remote.Host),
		Port:                  c.Remote.Port,
		KeyFile:               c.Remote.KeyFile,
		ProxyJump:             c.Remote.ProxyJump,
		KnownHostsFile:        c.Remote.KnownHostsFile,
		InsecureIgnoreHostKey: c.Remote.InsecureIgnoreHostKey,
		ConnectTimeout:        c.Remote.ConnectTimeout,
	}
	if err := id.Validate(); err != nil {
		return remote.Identity{}, err
	}
	return id, nil
}
