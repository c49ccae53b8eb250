// Package config handles EventFlow configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Services
	Extractor ExtractorConfig `json:"extractor"`
	Google    GoogleConfig    `json:"google"`

	// Background jobs
	Sweep SweepConfig `json:"sweep"`
}

// ServerConfig for the HTTP API
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// ExtractorConfig for the external NLP extraction service
type ExtractorConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout_seconds"`
}

// GoogleConfig for Gmail / Google Calendar OAuth
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// SweepConfig for the auto-approve sweep and connector polling
type SweepConfig struct {
	AutoApproveInterval time.Duration `json:"auto_approve_interval"`
	PollInterval        time.Duration `json:"poll_interval"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".eventflow"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Extractor: ExtractorConfig{
			URL:     envOr("EXTRACTION_API_URL", "http://localhost:8000"),
			APIKey:  os.Getenv("EXTRACTION_API_KEY"),
			Timeout: 15,
		},
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  "http://localhost:8080/oauth/callback",
		},
		Sweep: SweepConfig{
			AutoApproveInterval: time.Minute,
			PollInterval:        time.Minute,
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Secrets always win from the environment
	if key := os.Getenv("EXTRACTION_API_KEY"); key != "" {
		cfg.Extractor.APIKey = key
	}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.Google.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.Google.ClientSecret = secret
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Keep secrets out of the file
	safeCfg := *c
	safeCfg.Extractor.APIKey = ""
	safeCfg.Google.ClientSecret = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
