package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juergengeck/esp32/pkg/helper/errors"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML node config from configPath, falling back to defaults
// when configPath is empty, then overlays environment variables. Cobra
// flags are overlaid afterward by the caller via AddFlagsToCommand.
func Load(configPath string) (*Config, error) {
	cfg := NewDefaultConfig()

	if configPath != "" {
		expandedPath := ExpandHomeDir(configPath)

		if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
			return nil, errors.NotFoundf("configuration file not found: %s", expandedPath)
		}

		data, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading configuration file")
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parsing configuration file")
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v, ok := os.LookupEnv("TRUSTCORE_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("TRUSTCORE_STORE_PATH"); ok && v != "" {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv("TRUSTCORE_ROOT_SET"); ok && v != "" {
		cfg.RootSet.Path = v
	}
	if v, ok := os.LookupEnv("TRUSTCORE_CHAIN_CACHE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.CacheSize = n
		}
	}
	if v, ok := os.LookupEnv("TRUSTCORE_SERVER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}

// SaveToFile writes cfg back out as YAML, the way an operator can snapshot
// an effective configuration after flag/env overlay.
func (c *Config) SaveToFile(filePath string) error {
	expandedPath := ExpandHomeDir(filePath)

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0755); err != nil {
		return errors.Wrap(err, "creating configuration directory")
	}

	file, err := os.Create(expandedPath)
	if err != nil {
		return errors.Wrap(err, "creating configuration file")
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	defer encoder.Close()
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "encoding configuration")
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	logLevel := strings.ToLower(c.LogLevel)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[logLevel] {
		return errors.InvalidInputf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", c.LogLevel)
	}

	if c.Chain.CacheSize <= 0 {
		return errors.InvalidInputf("chain cache size must be positive")
	}
	if c.Store.Path == "" {
		return errors.InvalidInputf("store path must not be empty")
	}
	if c.Store.AutoSaveSchedule != "" {
		if _, err := cron.ParseStandard(c.Store.AutoSaveSchedule); err != nil {
			return errors.InvalidInputf("invalid auto-save schedule %q: %v", c.Store.AutoSaveSchedule, err)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.InvalidInputf("server port must be between 0 and 65535")
	}
	if c.Actor.MailboxSize <= 0 {
		return errors.InvalidInputf("mailbox size must be positive")
	}
	if c.Actor.AdmitPerSecond <= 0 {
		return errors.InvalidInputf("admission rate must be positive")
	}

	return nil
}
