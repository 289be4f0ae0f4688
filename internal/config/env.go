package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "URLSHIELD_"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads .env from the config file's directory (when configPath is
// set) and from the working directory. Missing files are ignored and
// existing variables are never overwritten.
func LoadDotEnv(configPath string) error {
	var paths []string
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(abs), ".env"))
		}
	}
	paths = append(paths, ".env")

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		slog.Debug("Loaded environment from .env", "path", path)
	}
	return nil
}

// ApplyEnv overrides c with URLSHIELD_* variables found through lookup:
//
//	URLSHIELD_SERVER_HOST, URLSHIELD_SERVER_PORT, URLSHIELD_SERVER_DATA_DIR
//	URLSHIELD_CLIENT_NAME, URLSHIELD_CLIENT_HOST, URLSHIELD_CLIENT_PORT,
//	URLSHIELD_CLIENT_DATA_DIR, URLSHIELD_CLIENT_FALSE_POSITIVE_RATE
//	URLSHIELD_STORE_PARTITIONS, URLSHIELD_STORE_HASHES_PER_INDEX,
//	URLSHIELD_STORE_SYNC_WAL
//	URLSHIELD_LOG_LEVEL, URLSHIELD_LOG_FORMAT
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"SERVER_HOST":     &c.Server.Host,
		"SERVER_DATA_DIR": &c.Server.DataDir,
		"CLIENT_NAME":     &c.Client.Name,
		"CLIENT_HOST":     &c.Client.Host,
		"CLIENT_DATA_DIR": &c.Client.DataDir,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":            &c.Server.Port,
		"CLIENT_PORT":            &c.Client.Port,
		"STORE_PARTITIONS":       &c.Store.Partitions,
		"STORE_HASHES_PER_INDEX": &c.Store.HashesPerIndex,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, key, v)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "CLIENT_FALSE_POSITIVE_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sCLIENT_FALSE_POSITIVE_RATE: %q is not a number", EnvPrefix, v)
		}
		c.Client.FalsePositiveRate = f
	}
	if v, ok := lookup(EnvPrefix + "STORE_SYNC_WAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTORE_SYNC_WAL: %q is not a boolean", EnvPrefix, v)
		}
		c.Store.SyncWAL = b
	}
	return nil
}
