// Package config loads urlshield settings.
//
// Settings are layered, later layers winning:
//
//  1. Built-in defaults (Default).
//  2. An optional config file given with --config. Files ending in .yaml or
//     .yml are parsed with gopkg.in/yaml.v3; .json and .jsonc files have their
//     comments stripped with github.com/tidwall/jsonc and are then decoded
//     with encoding/json.
//  3. A .env file next to the config file or in the working directory,
//     loaded with github.com/joho/godotenv. Variables already set in the
//     process environment are not overwritten.
//  4. URLSHIELD_* environment variables (see ApplyEnv).
//  5. Command-line flags, applied by the cli package.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// Config is the complete urlshield configuration.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Client ClientConfig `yaml:"client" json:"client"`
	Store  StoreConfig  `yaml:"store" json:"store"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ServerConfig configures `urlshield serve`.
type ServerConfig struct {
	// Host is the listen address. Empty listens on every interface.
	Host string `yaml:"host" json:"host"`

	// Port is the listen port. 0 picks the first free port from
	// model.DefaultPort upward.
	Port int `yaml:"port" json:"port"`

	// DataDir holds the index files, write-ahead logs and activity logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ClientConfig configures the client commands.
type ClientConfig struct {
	// Name identifies this client in the server's activity log.
	Name string `yaml:"name" json:"name"`

	// Host and Port locate the server.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// DataDir holds the bloom filter and session logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// FalsePositiveRate is the bloom filter's target false-positive rate.
	FalsePositiveRate float64 `yaml:"false_positive_rate" json:"false_positive_rate"`
}

// StoreConfig configures the blacklist store.
type StoreConfig struct {
	Partitions     int  `yaml:"partitions" json:"partitions"`
	HashesPerIndex int  `yaml:"hashes_per_index" json:"hashes_per_index"`
	SyncWAL        bool `yaml:"sync_wal" json:"sync_wal"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    model.DefaultPort,
			DataDir: filepath.Join("data", "server"),
		},
		Client: ClientConfig{
			Host:              "localhost",
			Port:              model.DefaultPort,
			DataDir:           filepath.Join("data", "client"),
			FalsePositiveRate: model.DefaultFalsePositiveRate,
		},
		Store: StoreConfig{
			Partitions:     model.DefaultPartitions,
			HashesPerIndex: model.DefaultHashesPerIndex,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the file at path (if non-empty),
// any .env file and URLSHIELD_* environment variables. The result is not
// validated; call Validate after applying flags.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := LoadDotEnv(path); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes the file at path on top of c. Keys absent from the file
// keep their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.WrapCLIError(
				model.ExitInvalidInput,
				fmt.Sprintf("config file not found: %s", path),
				err,
			)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".json", ".jsonc":
		// Strip // and /* */ comments and trailing commas first.
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return model.NewCLIError(
			model.ExitInvalidInput,
			fmt.Sprintf("unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", ext),
		)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if c.Store.Partitions < 1 || c.Store.Partitions > 256 {
		problems = append(problems, fmt.Sprintf("store.partitions must be between 1 and 256, got %d", c.Store.Partitions))
	}
	if c.Store.HashesPerIndex < 1 {
		problems = append(problems, fmt.Sprintf("store.hashes_per_index must be positive, got %d", c.Store.HashesPerIndex))
	}
	if c.Client.FalsePositiveRate <= 0 || c.Client.FalsePositiveRate >= 1 {
		problems = append(problems, fmt.Sprintf("client.false_positive_rate must be between 0 and 1, got %g", c.Client.FalsePositiveRate))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Client.Port < 1 || c.Client.Port > 65535 {
		problems = append(problems, fmt.Sprintf("client.port out of range: %d", c.Client.Port))
	}
	if c.Server.DataDir == "" {
		problems = append(problems, "server.data_dir must not be empty")
	}
	if c.Client.DataDir == "" {
		problems = append(problems, "client.data_dir must not be empty")
	}
	if c.Client.Name != "" {
		if err := model.ValidateClientName(c.Client.Name); err != nil {
			problems = append(problems, "client.name: "+err.Error())
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return model.NewCLIError(model.ExitInvalidInput, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}
