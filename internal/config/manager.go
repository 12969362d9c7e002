package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
)

// Environment variables that override values from the config file.
const (
	EnvBotToken = "TELEGRAM_TOKEN"
	EnvBind     = "STOCKWATCH_BIND"
	EnvLogLevel = "STOCKWATCH_LOG_LEVEL"
)

// Manager holds the loaded config and hands out copies.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	filePath string
}

// NewManager creates a Manager and loads config from the given file path.
// If the file does not exist, a default config is used (but not persisted).
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{
		filePath: filePath,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", filePath)
		cfg := DefaultConfig()
		applyEnv(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		m.cfg = cfg
		return m, nil
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m, nil
}

// NewStatic wraps an already built config. Used by tests and one-shot commands.
func NewStatic(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Get returns a copy of the current config (safe for concurrent reads).
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Path returns the file the config was loaded from.
func (m *Manager) Path() string {
	return m.filePath
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Parse decodes YAML, fills defaults, applies env overrides and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config YAML: %w", err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBotToken); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvBind); v != "" {
		cfg.System.BindAddress = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.System.LogLevel = v
	}
}
