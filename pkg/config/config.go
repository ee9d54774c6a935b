// Package config loads deskmate configuration from a YAML file with
// environment-variable overrides. Lookup order: explicit path, ./config.yaml,
// ~/.deskmate/config.yaml, then built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type AgentConfig struct {
	// Model is the default language model used for intent disambiguation
	// and fallback chat.
	Model string `yaml:"model" env:"DESKMATE_MODEL"`
	// ConfidenceThreshold below which an inferred intent degrades to
	// UNKNOWN and the user is asked to clarify.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"DESKMATE_CONFIDENCE_THRESHOLD"`
	// ContextTTL bounds how long a result list stays referenceable.
	ContextTTL  time.Duration `yaml:"context_ttl" env:"DESKMATE_CONTEXT_TTL"`
	AutoConfirm bool          `yaml:"auto_confirm" env:"DESKMATE_AUTO_CONFIRM"`
}

type SandboxConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"DESKMATE_SANDBOX_TIMEOUT"`
	OutputLimit int           `yaml:"output_limit" env:"DESKMATE_SANDBOX_OUTPUT_LIMIT"`
}

type PathsConfig struct {
	// Whitelist roots are the only directories local search walks and the
	// only places file operations touch without confirmation.
	Whitelist []string `yaml:"whitelist" env:"DESKMATE_PATH_WHITELIST" envSeparator:":"`
	Downloads string   `yaml:"downloads" env:"DESKMATE_DOWNLOADS"`
}

type AppConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	// Process is the executable name used when closing the application.
	// Defaults to the command basename.
	Process string   `yaml:"process,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type WebConfig struct {
	SearchURL  string `yaml:"search_url" env:"DESKMATE_SEARCH_URL"`
	MaxResults int    `yaml:"max_results" env:"DESKMATE_WEB_MAX_RESULTS"`
	// Browser overrides the platform opener (xdg-open / open / cmd start).
	Browser string `yaml:"browser,omitempty" env:"DESKMATE_BROWSER"`
	// Proxy routes search traffic through an HTTP proxy.
	Proxy string `yaml:"proxy,omitempty" env:"DESKMATE_SEARCH_PROXY"`
	// H2Fingerprint switches the search client to the full Chrome HTTP/2
	// profile for endpoints that fingerprint the h2 SETTINGS frame.
	H2Fingerprint bool `yaml:"h2_fingerprint" env:"DESKMATE_SEARCH_H2"`
}

type GatewayConfig struct {
	Host string `yaml:"host" env:"DESKMATE_GATEWAY_HOST"`
	Port int    `yaml:"port" env:"DESKMATE_GATEWAY_PORT"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type ProvidersConfig struct {
	Ollama    ProviderConfig `yaml:"ollama" envPrefix:"DESKMATE_OLLAMA_"`
	Anthropic ProviderConfig `yaml:"anthropic" envPrefix:"DESKMATE_ANTHROPIC_"`
}

type LoggingConfig struct {
	Debug bool   `yaml:"debug" env:"DESKMATE_DEBUG"`
	Dir   string `yaml:"dir,omitempty" env:"DESKMATE_LOG_DIR"`
}

type Config struct {
	Agent     AgentConfig          `yaml:"agent"`
	Sandbox   SandboxConfig        `yaml:"sandbox"`
	Paths     PathsConfig          `yaml:"paths"`
	Apps      map[string]AppConfig `yaml:"apps"`
	Web       WebConfig            `yaml:"web"`
	Gateway   GatewayConfig        `yaml:"gateway"`
	Providers ProvidersConfig      `yaml:"providers"`
	Logging   LoggingConfig        `yaml:"logging"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	whitelist := []string{}
	if home != "" {
		for _, sub := range []string{"Desktop", "Documents", "Downloads"} {
			whitelist = append(whitelist, filepath.Join(home, sub))
		}
	}

	return &Config{
		Agent: AgentConfig{
			Model:               "llama3.1:8b",
			ConfidenceThreshold: 0.55,
			ContextTTL:          15 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Timeout:     20 * time.Second,
			OutputLimit: 64 * 1024,
		},
		Paths: PathsConfig{
			Whitelist: whitelist,
			Downloads: filepath.Join(home, "Downloads"),
		},
		Apps: defaultApps(),
		Web: WebConfig{
			SearchURL:  "https://duckduckgo.com/html/",
			MaxResults: 5,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Providers: ProvidersConfig{
			Ollama: ProviderConfig{
				BaseURL: "http://127.0.0.1:11434/v1",
			},
		},
	}
}

func defaultApps() map[string]AppConfig {
	return map[string]AppConfig{
		"calculator": {
			Aliases: []string{"калькулятор", "посчитать", "calc", "calculator"},
		},
		"editor": {
			Aliases: []string{"блокнот", "заметки", "notepad", "текстовый редактор", "editor"},
		},
		"browser": {
			Aliases: []string{"браузер", "chrome", "хром", "browser", "firefox"},
		},
		"files": {
			Aliases: []string{"проводник", "файловый менеджер", "file manager", "files"},
		},
	}
}

// ConfigDir returns ~/.deskmate.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskmate"
	}
	return filepath.Join(home, ".deskmate")
}

// Load reads configuration from the given path, or from the default
// locations if path is empty. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	candidates := []string{path}
	if path == "" {
		candidates = []string{
			"config.yaml",
			filepath.Join(ConfigDir(), "config.yaml"),
		}
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) && path == "" {
				continue
			}
			if path != "" {
				return nil, fmt.Errorf("reading config %s: %w", candidate, err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", candidate, err)
		}
		break
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.ConfidenceThreshold < 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("agent.confidence_threshold must be in [0,1], got %v", c.Agent.ConfidenceThreshold)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %v", c.Sandbox.Timeout)
	}
	if c.Sandbox.OutputLimit <= 0 {
		return fmt.Errorf("sandbox.output_limit must be positive, got %d", c.Sandbox.OutputLimit)
	}
	if c.Agent.ContextTTL <= 0 {
		return fmt.Errorf("agent.context_ttl must be positive, got %v", c.Agent.ContextTTL)
	}
	return nil
}

// GatewayAddr returns host:port for the HTTP gateway listener.
func (c *Config) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
