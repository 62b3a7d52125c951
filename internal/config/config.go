// Package config provides configuration management for jarvisd.
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// viperMu serializes access to the shared viper instance; Save can be hit by
// concurrent config updates.
var viperMu sync.Mutex

// Config holds all daemon configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	Personality PersonalityConfig `mapstructure:"personality" json:"personality"`
	LLM         ModuleSettings    `mapstructure:"llm" json:"llm"`
	ASR         ModuleSettings    `mapstructure:"asr" json:"asr"`
	TTS         ModuleSettings    `mapstructure:"tts" json:"tts"`
	Knowledge   KnowledgeConfig   `mapstructure:"knowledge" json:"knowledge"`
	Wake        WakeConfig        `mapstructure:"wake" json:"wake"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// PersonalityConfig shapes the assistant's voice in prompts.
type PersonalityConfig struct {
	Name         string `mapstructure:"name" json:"name"`
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`
}

// ModuleSettings selects and parameterizes one capability's provider. The
// Options bag is passed through to the adapter untouched; each adapter reads
// only the keys it recognizes.
type ModuleSettings struct {
	Enabled  bool           `mapstructure:"enabled" json:"enabled"`
	Provider string         `mapstructure:"provider" json:"provider"`
	Options  map[string]any `mapstructure:"options" json:"options"`
}

// KnowledgeConfig configures the retrieval store.
type KnowledgeConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
	TopK    int    `mapstructure:"top_k" json:"top_k"`
}

// WakeConfig configures hotword detection.
type WakeConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	AccessKey   string  `mapstructure:"access_key" json:"access_key"`
	Keyword     string  `mapstructure:"keyword" json:"keyword"`
	Sensitivity float64 `mapstructure:"sensitivity" json:"sensitivity"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Personality: PersonalityConfig{
			Name: "Jarvis",
			SystemPrompt: "You are Jarvis, a helpful and concise voice assistant. " +
				"Answer in short, spoken-friendly sentences.",
		},
		LLM: ModuleSettings{
			Enabled:  true,
			Provider: "llama.cpp",
			Options: map[string]any{
				"threads":      4,
				"context_size": 2048,
				"max_tokens":   256,
			},
		},
		ASR: ModuleSettings{
			Enabled:  true,
			Provider: "whisper.cpp",
			Options: map[string]any{
				"model": "base.en",
			},
		},
		TTS: ModuleSettings{
			Enabled:  true,
			Provider: "piper",
			Options:  map[string]any{},
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".jarvisd", "knowledge.db"),
			TopK:    3,
		},
		Wake: WakeConfig{
			Enabled:     false,
			Keyword:     "jarvis",
			Sensitivity: 0.5,
		},
	}
}

// Load reads configuration from file and environment. A missing config file
// is not an error; defaults are written out so the user has something to
// edit.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return cfg, err
	}

	viperMu.Lock()
	defer viperMu.Unlock()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("JARVISD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		if err := save(cfg, configDir); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to the config directory.
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	viperMu.Lock()
	defer viperMu.Unlock()
	return save(cfg, configDir)
}

// save writes via the shared viper instance; callers hold viperMu.
func save(cfg *Config, configDir string) error {
	viper.Set("server", cfg.Server)
	viper.Set("personality", cfg.Personality)
	viper.Set("llm", cfg.LLM)
	viper.Set("asr", cfg.ASR)
	viper.Set("tts", cfg.TTS)
	viper.Set("knowledge", cfg.Knowledge)
	viper.Set("wake", cfg.Wake)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".jarvisd"), nil
}
