package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerHost string `yaml:"server_host"`
	APISecret  string `yaml:"api_secret"`
	ChatID     int64  `yaml:"chat_id"`
	DataDir    string `yaml:"data_dir"`
	PageSize   int    `yaml:"page_size"`
	TLS        bool   `yaml:"tls"`
	Debug      bool   `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		PageSize: 50,
		DataDir:  defaultDataDir(),
	}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "chat-bridge")
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg), nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return applyEnv(cfg), nil
}

// applyEnv fills unset fields from the environment, the same fallback
// order the rest of the tooling uses.
func applyEnv(cfg Config) Config {
	if cfg.ServerHost == "" {
		cfg.ServerHost = os.Getenv("CHAT_BRIDGE_HOST")
	}
	if cfg.APISecret == "" {
		cfg.APISecret = os.Getenv("CHAT_BRIDGE_SECRET")
	}
	if cfg.ChatID == 0 {
		if raw := os.Getenv("CHAT_BRIDGE_CHAT_ID"); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				cfg.ChatID = id
			}
		}
	}
	return cfg
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "chat-bridge", "config.yml")
}

func (c Config) Validate() error {
	return validateEndpoint(c.ServerHost)
}

// WSEndpoint builds the stream URL, including the auth token when one
// is configured. The controller appends last_seq on resume.
func (c Config) WSEndpoint() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	endpoint := fmt.Sprintf("%s://%s/ws", scheme, c.ServerHost)
	if c.APISecret != "" {
		endpoint += "?token=" + c.APISecret
	}
	return endpoint
}

// HTTPBaseURL builds the base URL for the HTTP API surface.
func (c Config) HTTPBaseURL() string {
	scheme := "http"
	if c.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.ServerHost)
}
