package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Playlist struct {
		// Repository is "file" or "postgres".
		Repository      string `yaml:"repository"`
		FilePath        string `yaml:"file_path"`
		TickIntervalSec int    `yaml:"tick_interval_sec"`
	} `yaml:"playlist"`

	Provider struct {
		BaseURL    string `yaml:"base_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"provider"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func defaultConfig() *Config {
	var config Config
	config.Server.Addr = ":" + getEnv("PORT", "8080")
	config.Playlist.Repository = "file"
	config.Playlist.FilePath = "./data/playlist.json"
	config.Playlist.TickIntervalSec = 1
	return &config
}

// loadConfig reads the yaml config; a missing file yields defaults so the
// server runs without any configuration at all.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":" + getEnv("PORT", "8080")
	}
	return config, nil
}

func databaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "watchparty"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func (c DatabaseConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
