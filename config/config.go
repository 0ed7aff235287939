package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// DefaultPort is the port the remote server listens on unless configured otherwise.
const DefaultPort = 4848

// Config represents the application configuration
type Config struct {
	// Enabled controls whether the remote server starts at all. The server is a
	// no-op when false.
	Enabled bool `json:"enabled"`
	// Port is the TCP port the server binds on all interfaces.
	Port int `json:"port"`
	// TmuxMode makes new panels run under tmux so native and remote clients can
	// mirror the same session.
	TmuxMode bool `json:"tmux_mode"`
	// AgentStateDir is scanned for agent transcripts by the /api/cc endpoints.
	// Defaults to ~/.claude/projects.
	AgentStateDir string `json:"agent_state_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:       false,
		Port:          DefaultPort,
		TmuxMode:      false,
		AgentStateDir: defaultAgentStateDir(),
	}
}

func defaultAgentStateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".claude", "projects")
}

// GetConfigDir returns the directory that holds the config file and lock file.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cmux-remote"), nil
}

// LoadConfig loads the configuration from disk
func LoadConfig() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}

	configPath := filepath.Join(configDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfig(defaultCfg); saveErr != nil {
				log.Printf("Warning: failed to save default config: %v", saveErr)
			}
			return defaultCfg, nil
		}
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.AgentStateDir == "" {
		config.AgentStateDir = defaultAgentStateDir()
	}

	return &config, nil
}

// SaveConfig saves the configuration to disk
func SaveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.json")
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}
