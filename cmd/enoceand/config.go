package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is read from a YAML or TOML file, command line flags override it
type Config struct {
	Link        string            `yaml:"link" toml:"link"`
	Definitions []string          `yaml:"definitions" toml:"definitions"`
	Devices     map[string]string `yaml:"devices" toml:"devices"`
	Redis       RedisConfig       `yaml:"redis" toml:"redis"`
	HTTP        HTTPConfig        `yaml:"http" toml:"http"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	TeachIn     TeachInConfig     `yaml:"teach_in" toml:"teach_in"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
	Channel  string `yaml:"channel" toml:"channel"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type TeachInConfig struct {
	Respond bool `yaml:"respond" toml:"respond"`
}

// DefaultConfig returns the settings used without a config file
func DefaultConfig() *Config {
	return &Config{
		Definitions: []string{"definitions"},
		Devices:     map[string]string{},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			Channel:  "enocean",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path on top of DefaultConfig, the format follows the file extension
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("load config %s: unsupported format %q", path, ext)
	}
	return cfg, nil
}
