package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains the program configuration
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Verbose  bool           `yaml:"verbose"`
	LogFile  string         `yaml:"log_file"`
	Fragment FragmentConfig `yaml:"fragment"`
	Cache    CacheConfig    `yaml:"cache"`
	Remote   RemoteConfig   `yaml:"remote"`
	Network  NetworkConfig  `yaml:"network"`
	Server   ServerConfig   `yaml:"server"`
	RdsLog   RdsLogConfig   `yaml:"rdslog"`
}

// FragmentConfig controls the per-station RT fragment buffer.
type FragmentConfig struct {
	Capacity int           `yaml:"capacity"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// CacheConfig controls the local track cache.
type CacheConfig struct {
	Enabled        bool `yaml:"enabled"`
	DownloadCovers bool `yaml:"download_covers"`
}

// RemoteConfig selects and configures the remote track search providers.
type RemoteConfig struct {
	Providers           []string      `yaml:"providers"`
	SpotifyClientID     string        `yaml:"spotify_client_id"`
	SpotifyClientSecret string        `yaml:"spotify_client_secret"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	Timeout             time.Duration `yaml:"timeout"`
}

// NetworkConfig controls the network availability oracle.
type NetworkConfig struct {
	Offline       bool          `yaml:"offline"`
	ProbeAddress  string        `yaml:"probe_address"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RdsLogConfig controls the RT/station change log.
type RdsLogConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

var validProviders = []string{"spotify", "deezer", "itunes", "musicbrainz"}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		DataDir: filepath.Join(homeDir(), ".local", "share", "rdstrack"),
		Fragment: FragmentConfig{
			Capacity: 3,
			Lifetime: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        true,
			DownloadCovers: true,
		},
		Remote: RemoteConfig{
			Providers:         []string{"deezer", "itunes"},
			RequestsPerSecond: 5,
			Timeout:           10 * time.Second,
		},
		Network: NetworkConfig{
			ProbeAddress:  "api.spotify.com:443",
			ProbeInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		RdsLog: RdsLogConfig{
			Enabled:       true,
			RetentionDays: 7,
		},
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.LogFile = ExpandHome(cfg.LogFile)

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := homeDir()
	locations := []string{
		"./rdstrack.yaml",
		"./rdstrack.yml",
		filepath.Join(home, ".config", "rdstrack", "config.yaml"),
		filepath.Join(home, ".config", "rdstrack", "config.yml"),
		filepath.Join(home, ".rdstrack.yaml"),
		filepath.Join(home, ".rdstrack.yml"),
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may hold provider credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(homeDir(), ".config", "rdstrack", "config.yaml")
}

// RulesDBPath is the SQLite file holding edit rules, corrections and the RDS log.
func (c *Config) RulesDBPath() string {
	return filepath.Join(c.DataDir, "rdstrack.db")
}

// CacheDir is the directory holding the track cache database and covers.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// LogDir is the directory for file logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if c.Fragment.Capacity < 2 {
		return fmt.Errorf("fragment.capacity must be at least 2 to combine fragments, got %d", c.Fragment.Capacity)
	}
	if c.Fragment.Capacity > 10 {
		return fmt.Errorf("fragment.capacity cannot exceed 10 (permutations grow quadratically), got %d", c.Fragment.Capacity)
	}
	if c.Fragment.Lifetime <= 0 {
		return fmt.Errorf("fragment.lifetime must be positive, got %s", c.Fragment.Lifetime)
	}

	for _, p := range c.Remote.Providers {
		if !isValidProvider(p) {
			return fmt.Errorf("unknown remote provider %q, valid providers: %s", p, strings.Join(validProviders, ", "))
		}
	}
	if c.HasProvider("spotify") {
		if c.Remote.SpotifyClientID == "" {
			return fmt.Errorf("remote.spotify_client_id is required when spotify is in remote.providers")
		}
		if c.Remote.SpotifyClientSecret == "" {
			return fmt.Errorf("remote.spotify_client_secret is required when spotify is in remote.providers")
		}
	}
	if c.Remote.RequestsPerSecond <= 0 {
		return fmt.Errorf("remote.requests_per_second must be positive, got %.2f", c.Remote.RequestsPerSecond)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout)
	}

	if !c.Network.Offline && c.Network.ProbeAddress == "" {
		return fmt.Errorf("network.probe_address cannot be empty unless network.offline is set")
	}

	if c.RdsLog.RetentionDays < 1 {
		return fmt.Errorf("rdslog.retention_days must be at least 1, got %d", c.RdsLog.RetentionDays)
	}

	return nil
}

// HasProvider reports whether name is in the configured provider chain.
func (c *Config) HasProvider(name string) bool {
	for _, p := range c.Remote.Providers {
		if p == name {
			return true
		}
	}
	return false
}

func isValidProvider(name string) bool {
	for _, p := range validProviders {
		if p == name {
			return true
		}
	}
	return false
}
