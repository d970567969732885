package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/joho/godotenv"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"
	DefaultDatabaseFile   = "chatgate.db"
	DefaultPowWorkers     = 2
)

// Provider configures one backend adapter.
type Provider struct {
	Name      string   `json:"name"`
	Endpoints []string `json:"endpoints,omitempty"`
	Disabled  bool     `json:"disabled,omitempty"`
}

type Config struct {
	Host         string `json:"HOST,omitempty"`
	Port         int    `json:"PORT,omitempty"`
	APIKey       string `json:"APIKEY,omitempty"`
	DatabasePath string `json:"DATABASE_PATH,omitempty"`
	PowWorkers   int    `json:"POW_WORKERS,omitempty"`

	Providers []Provider `json:"Providers,omitempty"`

	// ModelMappings maps the shim's model categories ("opus", "sonnet",
	// "haiku", "default") to "provider/model" or bare model strings.
	// "auto" means no mapping.
	ModelMappings map[string]string `json:"ModelMappings,omitempty"`

	// Settings holds free-form key/value pairs.
	Settings map[string]string `json:"Settings,omitempty"`
}

// Manager loads and holds an atomic snapshot of the configuration.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	// A .env file beside the config takes effect before env overrides.
	_ = godotenv.Load(filepath.Join(filepath.Dir(m.configPath), ".env"))

	var cfg Config

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case os.IsNotExist(err):
		// Start from defaults; env can still supply everything needed.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg, filepath.Dir(m.configPath))

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHATGATE_HOST"); v != "" {
		cfg.Host = v
	}

	if v := os.Getenv("CHATGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}

	if v := os.Getenv("CHATGATE_APIKEY"); v != "" {
		cfg.APIKey = v
	}

	if v := os.Getenv("CHATGATE_DATABASE"); v != "" {
		cfg.DatabasePath = v
	}
}

func applyDefaults(cfg *Config, baseDir string) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(baseDir, DefaultDatabaseFile)
	}

	if cfg.PowWorkers <= 0 {
		cfg.PowWorkers = DefaultPowWorkers
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg, filepath.Dir(m.configPath))
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// GetString looks up a free-form settings key.
func (m *Manager) GetString(key string) string {
	return m.Get().Settings[key]
}

// ModelMapping returns the configured mapping for a shim model category.
// Implements the shim's Settings interface.
func (m *Manager) ModelMapping(category string) string {
	return m.Get().ModelMappings[category]
}

// ProviderConfig returns the configuration block for a named provider.
func (m *Manager) ProviderConfig(name string) (Provider, bool) {
	for _, p := range m.Get().Providers {
		if p.Name == name {
			return p, true
		}
	}

	return Provider{}, false
}
