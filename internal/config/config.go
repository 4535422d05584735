package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default settings applied by NewConfig and WithDefaults.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
	DefaultPageSize      = 25
	DefaultStoreType     = "sqlite"
	DefaultRemoteBaseURL = "http://localhost:8080"
)

// Config represents the main configuration for histsync.
type Config struct {
	UserID  string       `toml:"user_id"`
	BaseDir string       `toml:"base_dir"`
	LogDir  string       `toml:"log_dir"`
	Remote  RemoteConfig `toml:"remote"`
	Store   StoreConfig  `toml:"store"`
	Poll    PollConfig   `toml:"poll"`
	Loader  LoaderConfig `toml:"loader"`
}

// RemoteConfig locates the history API.
type RemoteConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key,omitempty"`
	Timeout Duration `toml:"timeout"`
}

// StoreConfig represents configuration for the local document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// PollConfig controls the background poll loop.
type PollConfig struct {
	Interval Duration `toml:"interval"`
	Disabled bool     `toml:"disabled"`
}

// LoaderConfig controls manual paging.
type LoaderConfig struct {
	PageSize int `toml:"page_size"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config with the provided values and default settings.
func NewConfig(userID, baseDir string) *Config {
	cfg := &Config{
		UserID:  userID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Remote:  RemoteConfig{BaseURL: DefaultRemoteBaseURL},
		Store: StoreConfig{
			Type:    DefaultStoreType,
			DataDir: filepath.Join(baseDir, "cache"),
		},
	}
	cfg.WithDefaults()
	return cfg
}

// WithDefaults fills unset durations and sizes.
func (c *Config) WithDefaults() *Config {
	if c.Remote.Timeout.Duration <= 0 {
		c.Remote.Timeout.Duration = DefaultTimeout
	}
	if c.Poll.Interval.Duration <= 0 {
		c.Poll.Interval.Duration = DefaultPollInterval
	}
	if c.Loader.PageSize <= 0 {
		c.Loader.PageSize = DefaultPageSize
	}
	if c.Store.Type == "" {
		c.Store.Type = DefaultStoreType
	}
	return c
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold an API key.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. An existing file is an error.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
