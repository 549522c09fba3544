package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration
type Config struct {
	Server     string `yaml:"server"`
	APIKey     string `yaml:"api_key"`
	ClientID   string `yaml:"client_id"`
	ExportsDir string `yaml:"exports_dir,omitempty"`
}

// configPath returns the path to the config file
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".metaseq.yaml"), nil
}

// DefaultExportsDir is where billing export files are looked for when the
// config does not name a directory.
func DefaultExportsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "billing-exports"
	}
	return filepath.Join(home, "billing-exports")
}

// Load loads the configuration from disk
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	// Generate client ID if not set
	if cfg.ClientID == "" {
		id, err := generateClientID()
		if err != nil {
			return err
		}
		cfg.ClientID = id
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func generateClientID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
