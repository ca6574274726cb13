// Package config loads the boardsmith client configuration from YAML with
// sensible defaults for every field.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logs      LogsConfig      `yaml:"logs"`
	UI        UIConfig        `yaml:"ui"`
}

// ServerConfig locates the build server. URL is the HTTP base; the WebSocket
// endpoint is derived from it.
type ServerConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	ProjectPath string `yaml:"project_path"`
}

// ReconnectConfig tunes the connection retry schedule and request deadlines.
type ReconnectConfig struct {
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// LogsConfig sets the initial log-stream filters.
type LogsConfig struct {
	MinLevel string   `yaml:"min_level"`
	Stages   []string `yaml:"stages"`
}

type UIConfig struct {
	// LogFile receives the client's own diagnostics; empty disables them.
	LogFile string `yaml:"log_file"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "http://127.0.0.1:8787",
		},
		Reconnect: ReconnectConfig{
			BackoffBase:       time.Second,
			BackoffCap:        10 * time.Second,
			BackoffMultiplier: 1.5,
			HandshakeTimeout:  5 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Logs: LogsConfig{
			MinLevel: "INFO",
		},
	}
}

// Load reads and parses the config at path. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as an empty one.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}
