/*
Package config manages TOML config for omnisuggest.
*/
package config

import (
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/internal/utils"
	"github.com/bastiangx/omnisuggest/pkg/history"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
	"github.com/bastiangx/omnisuggest/pkg/transport"
)

const configFileName = "config.toml"

// Config holds the entire config structure
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Transport TransportConfig `toml:"transport"`
	Engines   EnginesConfig   `toml:"engines"`
	History   HistoryConfig   `toml:"history"`
	CLI       CliConfig       `toml:"cli"`
}

// ProviderConfig tunes the suggestion provider.
type ProviderConfig struct {
	MaxMatches         int `toml:"max_matches"`
	MinQueryIntervalMs int `toml:"min_query_interval_ms"`
	HistoryMaxResults  int `toml:"history_max_results"`
	AnswerCacheSize    int `toml:"answer_cache_size"`
}

// TransportConfig holds HTTP options for suggest and deletion requests.
type TransportConfig struct {
	TimeoutMs    int    `toml:"timeout_ms"`
	UserAgent    string `toml:"user_agent"`
	MaxBodyBytes int    `toml:"max_body_bytes"`
}

// EnginesConfig points at the saved engine list. Relative paths live in the
// state directory.
type EnginesConfig struct {
	File           string `toml:"file"`
	DefaultKeyword string `toml:"default_keyword"`
}

// HistoryConfig points at the history snapshot.
type HistoryConfig struct {
	File       string `toml:"file"`
	MaxEntries int    `toml:"max_entries"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	Limit  int `toml:"limit"`
	WaitMs int `toml:"wait_ms"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			MaxMatches:         suggest.DefaultMaxMatches,
			MinQueryIntervalMs: int(suggest.DefaultMinQueryInterval / time.Millisecond),
			HistoryMaxResults:  suggest.DefaultHistoryMaxResults,
			AnswerCacheSize:    suggest.DefaultAnswerCacheSize,
		},
		Transport: TransportConfig{
			TimeoutMs:    int(transport.DefaultTimeout / time.Millisecond),
			UserAgent:    transport.DefaultUserAgent,
			MaxBodyBytes: transport.DefaultMaxBodyBytes,
		},
		Engines: EnginesConfig{
			File:           "engines.toml",
			DefaultKeyword: "",
		},
		History: HistoryConfig{
			File:       "history.msgpack",
			MaxEntries: history.DefaultMaxEntries,
		},
		CLI: CliConfig{
			Limit:  8,
			WaitMs: 1500,
		},
	}
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() string {
	return utils.NewPathResolver().ConfigPath(configFileName)
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/omnisuggest/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if utils.FileExists(customConfigPath) {
			config, err := LoadConfig(customConfigPath)
			if err == nil {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
			log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
		} else {
			log.Warnf("Custom config file not found at %s. Trying default path...", customConfigPath)
		}
	}

	defaultPath := GetDefaultConfigPath()
	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath)
}

// LoadConfig loads from a TOML file. Sections that fail to decode keep their
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	config.sanitize()
	return config, nil
}

// tryPartialParse recovers every value whose type is right from a file that
// did not decode as a whole.
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "provider"); ok {
		extractProviderConfig(section, &config.Provider)
	}
	if section, ok := utils.ExtractSection(tempConfig, "transport"); ok {
		extractTransportConfig(section, &config.Transport)
	}
	if section, ok := utils.ExtractSection(tempConfig, "engines"); ok {
		extractEnginesConfig(section, &config.Engines)
	}
	if section, ok := utils.ExtractSection(tempConfig, "history"); ok {
		extractHistoryConfig(section, &config.History)
	}
	if section, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		extractCliConfig(section, &config.CLI)
	}
	config.sanitize()
	return config, nil
}

func extractProviderConfig(data map[string]any, p *ProviderConfig) {
	if val, ok := utils.ExtractInt64(data, "max_matches"); ok {
		p.MaxMatches = val
	}
	if val, ok := utils.ExtractInt64(data, "min_query_interval_ms"); ok {
		p.MinQueryIntervalMs = val
	}
	if val, ok := utils.ExtractInt64(data, "history_max_results"); ok {
		p.HistoryMaxResults = val
	}
	if val, ok := utils.ExtractInt64(data, "answer_cache_size"); ok {
		p.AnswerCacheSize = val
	}
}

func extractTransportConfig(data map[string]any, t *TransportConfig) {
	if val, ok := utils.ExtractInt64(data, "timeout_ms"); ok {
		t.TimeoutMs = val
	}
	if val, ok := utils.ExtractString(data, "user_agent"); ok {
		t.UserAgent = val
	}
	if val, ok := utils.ExtractInt64(data, "max_body_bytes"); ok {
		t.MaxBodyBytes = val
	}
}

func extractEnginesConfig(data map[string]any, e *EnginesConfig) {
	if val, ok := utils.ExtractString(data, "file"); ok {
		e.File = val
	}
	if val, ok := utils.ExtractString(data, "default_keyword"); ok {
		e.DefaultKeyword = val
	}
}

func extractHistoryConfig(data map[string]any, h *HistoryConfig) {
	if val, ok := utils.ExtractString(data, "file"); ok {
		h.File = val
	}
	if val, ok := utils.ExtractInt64(data, "max_entries"); ok {
		h.MaxEntries = val
	}
}

func extractCliConfig(data map[string]any, cli *CliConfig) {
	if val, ok := utils.ExtractInt64(data, "limit"); ok {
		cli.Limit = val
	}
	if val, ok := utils.ExtractInt64(data, "wait_ms"); ok {
		cli.WaitMs = val
	}
}

// sanitize replaces out of range values with their defaults.
func (c *Config) sanitize() {
	def := DefaultConfig()
	if c.Provider.MaxMatches <= 0 {
		log.Warnf("provider.max_matches must be positive, using %d", def.Provider.MaxMatches)
		c.Provider.MaxMatches = def.Provider.MaxMatches
	}
	if c.Provider.MinQueryIntervalMs < 0 {
		c.Provider.MinQueryIntervalMs = def.Provider.MinQueryIntervalMs
	}
	if c.Provider.HistoryMaxResults <= 0 {
		c.Provider.HistoryMaxResults = def.Provider.HistoryMaxResults
	}
	if c.Provider.AnswerCacheSize <= 0 {
		c.Provider.AnswerCacheSize = def.Provider.AnswerCacheSize
	}
	if c.Transport.TimeoutMs <= 0 {
		log.Warnf("transport.timeout_ms must be positive, using %d", def.Transport.TimeoutMs)
		c.Transport.TimeoutMs = def.Transport.TimeoutMs
	}
	if c.Transport.MaxBodyBytes <= 0 {
		c.Transport.MaxBodyBytes = def.Transport.MaxBodyBytes
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = def.History.MaxEntries
	}
	if c.CLI.Limit <= 0 {
		c.CLI.Limit = def.CLI.Limit
	}
	if c.CLI.WaitMs <= 0 {
		c.CLI.WaitMs = def.CLI.WaitMs
	}
}

// ProviderOptions converts the [provider] section.
func (c *Config) ProviderOptions() suggest.Options {
	return suggest.Options{
		MaxMatches:        c.Provider.MaxMatches,
		MinQueryInterval:  time.Duration(c.Provider.MinQueryIntervalMs) * time.Millisecond,
		HistoryMaxResults: c.Provider.HistoryMaxResults,
		AnswerCacheSize:   c.Provider.AnswerCacheSize,
	}
}

// TransportOptions converts the [transport] section.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Timeout:      time.Duration(c.Transport.TimeoutMs) * time.Millisecond,
		UserAgent:    c.Transport.UserAgent,
		MaxBodyBytes: int64(c.Transport.MaxBodyBytes),
	}
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		return GetDefaultConfigPath()
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
		return err
	}
	return utils.SaveTOMLFile(config, configPath)
}
