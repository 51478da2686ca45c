// Package config manages application-level configuration.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/shini4i/wifimon/internal/fileutil"
	"github.com/shini4i/wifimon/internal/helper/server"
	"github.com/shini4i/wifimon/internal/stats"
	"github.com/shini4i/wifimon/internal/wifi"
)

const (
	// AppName is the application identifier used for XDG paths.
	AppName = "wifimon"
	// ConfigFileName is the name of the main configuration file.
	ConfigFileName = "config.json"
	// TOMLConfigFileName is used instead of ConfigFileName when present.
	TOMLConfigFileName = "config.toml"
	// EnvFileName is the optional dotenv overlay in the config directory.
	EnvFileName = ".env"
	// HistoryDirName is the name of the directory holding seen-network records.
	HistoryDirName = "seen"
)

// Environment variables that override file values.
const (
	EnvNmcliPath     = "WIFIMON_NMCLI"
	EnvIfconfigPath  = "WIFIMON_IFCONFIG"
	EnvSocketPath    = "WIFIMON_SOCKET"
	EnvCounterSource = "WIFIMON_COUNTER_SOURCE"
	EnvPollInterval  = "WIFIMON_POLL_INTERVAL"
)

// Config represents the application configuration.
type Config struct {
	NmcliPath             string `json:"nmcli_path" toml:"nmcli_path"`
	IfconfigPath          string `json:"ifconfig_path" toml:"ifconfig_path"`
	SocketPath            string `json:"socket_path" toml:"socket_path"`
	CounterSource         string `json:"counter_source" toml:"counter_source"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds" toml:"poll_interval_seconds"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds" toml:"command_timeout_seconds"`
	DefaultInterface      string `json:"default_interface,omitempty" toml:"default_interface,omitempty"`
	RememberCredentials   bool   `json:"remember_credentials" toml:"remember_credentials"`
	RecordHistory         bool   `json:"record_history" toml:"record_history"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NmcliPath:             wifi.DefaultNmcliPath,
		IfconfigPath:          wifi.DefaultIfconfigPath,
		SocketPath:            server.DefaultSocketPath,
		CounterSource:         string(stats.SourceSysfs),
		PollIntervalSeconds:   int(stats.DefaultPollInterval / time.Second),
		CommandTimeoutSeconds: 30,
		RememberCredentials:   true,
		RecordHistory:         true,
	}
}

// PollInterval returns the sampling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CommandTimeout returns the host tool timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Binary paths are resolved through PATH at run time; only emptiness is checked here.
	if c.NmcliPath == "" {
		return errors.New("nmcli path must not be empty")
	}
	if c.IfconfigPath == "" {
		return errors.New("ifconfig path must not be empty")
	}
	if !filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("socket path must be absolute: %q", c.SocketPath)
	}
	if !stats.ValidSourceKind(stats.SourceKind(c.CounterSource)) {
		return fmt.Errorf("unknown counter source %q", c.CounterSource)
	}
	if c.PollIntervalSeconds <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.CommandTimeoutSeconds <= 0 {
		return errors.New("command timeout must be positive")
	}
	return nil
}

// ApplyEnv overrides fields from lookup, which is usually os.LookupEnv
// layered over a dotenv file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strFields := map[string]*string{
		EnvNmcliPath:     &c.NmcliPath,
		EnvIfconfigPath:  &c.IfconfigPath,
		EnvSocketPath:    &c.SocketPath,
		EnvCounterSource: &c.CounterSource,
	}
	for key, field := range strFields {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup(EnvPollInterval); ok && v != "" {
		secs, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		c.PollIntervalSeconds = secs
	}
	return nil
}

// parseSeconds accepts either a whole number of seconds or a Go duration.
func parseSeconds(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return int(d / time.Second), nil
}

// EnvLookup returns a lookup that prefers the process environment and falls
// back to the dotenv file at path. A missing file is not an error.
func EnvLookup(path string) (func(string) (string, bool), error) {
	fileVars := map[string]string{}
	if path != "" {
		vars, err := godotenv.Read(path)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

// Paths holds the resolved configuration directories.
type Paths struct {
	ConfigDir  string
	HistoryDir string
	ConfigFile string
	EnvFile    string
}

// GetPaths returns the configuration paths following XDG Base Directory spec.
// A config.toml in the config directory takes precedence over config.json.
func GetPaths() (*Paths, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}

	configDir := filepath.Join(configHome, AppName)
	configFile := filepath.Join(configDir, ConfigFileName)
	if tomlFile := filepath.Join(configDir, TOMLConfigFileName); fileExists(tomlFile) {
		configFile = tomlFile
	}
	return PathsFor(configFile), nil
}

// PathsFor returns paths rooted at the directory of an explicit config file.
func PathsFor(configFile string) *Paths {
	configDir := filepath.Dir(configFile)
	return &Paths{
		ConfigDir:  configDir,
		HistoryDir: filepath.Join(configDir, HistoryDirName),
		ConfigFile: configFile,
		EnvFile:    filepath.Join(configDir, EnvFileName),
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsurePaths creates all necessary configuration directories.
func (p *Paths) EnsurePaths() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.MkdirAll(p.HistoryDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads the configuration from disk. A missing file yields defaults.
// Files ending in .toml are decoded as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config: %w", err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to disk atomically in the format implied
// by the file extension.
func Save(path string, cfg *Config) error {
	if !isTOML(path) {
		return fileutil.WriteJSON(path, cfg, 0600)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML config: %w", err)
	}
	return fileutil.AtomicWrite(path, buf.Bytes(), 0600)
}

// Manager provides high-level configuration management.
// It is safe for concurrent use from multiple goroutines.
type Manager struct {
	paths  *Paths       // Immutable after construction
	config *Config      // Protected by mu
	mu     sync.RWMutex // Protects config only
}

// NewManager creates a configuration manager over the XDG paths.
func NewManager() (*Manager, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	return NewManagerWithPaths(paths)
}

// NewManagerWithPaths ensures the directories exist, loads the file and
// applies the dotenv and environment overrides.
// Overrides affect the in-memory config only; saving writes them back.
func NewManagerWithPaths(paths *Paths) (*Manager, error) {
	if err := paths.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("failed to create config directories: %w", err)
	}

	cfg, err := Load(paths.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lookup, err := EnvLookup(paths.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		paths:  paths,
		config: cfg,
	}, nil
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// GetHistoryDir returns the path to the seen-network directory.
func (m *Manager) GetHistoryDir() string {
	return m.paths.HistoryDir
}

// GetConfigDir returns the path to the configuration directory.
func (m *Manager) GetConfigDir() string {
	return m.paths.ConfigDir
}

// GetConfigFile returns the path of the loaded configuration file.
func (m *Manager) GetConfigFile() string {
	return m.paths.ConfigFile
}

// SaveConfig saves the current configuration to disk.
func (m *Manager) SaveConfig() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Save(m.paths.ConfigFile, m.config)
}

// UpdateConfig validates cfg, replaces the current configuration and saves it.
func (m *Manager) UpdateConfig(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	return Save(m.paths.ConfigFile, m.config)
}

// UpdateField atomically updates config fields using a mutator function.
// If validation fails, the original config is preserved.
func (m *Manager) UpdateField(mutator func(cfg *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	configCopy := *m.config
	mutator(&configCopy)
	if err := configCopy.Validate(); err != nil {
		return err
	}

	*m.config = configCopy
	return Save(m.paths.ConfigFile, m.config)
}
