package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"faultline/internal/paths"
)

// CurrentVersion is the config schema version written by this release
const CurrentVersion = 1

// Config represents the complete faultline configuration
type Config struct {
	Version      int    `json:"version" mapstructure:"version"`
	DataDir      string `json:"dataDir" mapstructure:"dataDir"`
	ProjectsFile string `json:"projectsFile" mapstructure:"projectsFile"`

	BlameCache BlameCacheConfig `json:"blameCache" mapstructure:"blameCache"`
	Git        GitConfig        `json:"git" mapstructure:"git"`
	Reopen     ReopenConfig     `json:"reopen" mapstructure:"reopen"`
	Messages   MessagesConfig   `json:"messages" mapstructure:"messages"`
	Jobs       JobsConfig       `json:"jobs" mapstructure:"jobs"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// BlameCacheConfig bounds the durable blame cache
type BlameCacheConfig struct {
	MaxEntries int `json:"maxEntries" mapstructure:"maxEntries"`
}

// GitConfig contains repository access settings
type GitConfig struct {
	Binary         string `json:"binary" mapstructure:"binary"`
	BlameTimeoutMs int    `json:"blameTimeoutMs" mapstructure:"blameTimeoutMs"`
	FetchTimeoutMs int    `json:"fetchTimeoutMs" mapstructure:"fetchTimeoutMs"`
	LockTimeoutMs  int    `json:"lockTimeoutMs" mapstructure:"lockTimeoutMs"`
}

// ReopenConfig contains the bug reopen policy thresholds
type ReopenConfig struct {
	StaleFixDays int `json:"staleFixDays" mapstructure:"staleFixDays"`
}

// MessagesConfig contains message template settings
type MessagesConfig struct {
	MaxLength      int    `json:"maxLength" mapstructure:"maxLength"`
	DictionaryPath string `json:"dictionaryPath" mapstructure:"dictionaryPath"`
}

// JobsConfig contains background ingestion settings
type JobsConfig struct {
	Workers   int `json:"workers" mapstructure:"workers"`
	QueueSize int `json:"queueSize" mapstructure:"queueSize"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
	// MaxSize rotates the ingest log once it reaches this size ("10MB"); empty disables rotation
	MaxSize    string `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		DataDir: paths.DefaultDataDir,
		BlameCache: BlameCacheConfig{
			MaxEntries: 500000,
		},
		Git: GitConfig{
			Binary:         "git",
			BlameTimeoutMs: 5000,
			FetchTimeoutMs: 120000,
			LockTimeoutMs:  60000,
		},
		Reopen: ReopenConfig{
			StaleFixDays: 10,
		},
		Messages: MessagesConfig{
			MaxLength: 1000,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 100,
		},
		Logging: LoggingConfig{
			Format:     "human",
			Level:      "info",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("dataDir", d.DataDir)
	v.SetDefault("projectsFile", d.ProjectsFile)
	v.SetDefault("blameCache.maxEntries", d.BlameCache.MaxEntries)
	v.SetDefault("git.binary", d.Git.Binary)
	v.SetDefault("git.blameTimeoutMs", d.Git.BlameTimeoutMs)
	v.SetDefault("git.fetchTimeoutMs", d.Git.FetchTimeoutMs)
	v.SetDefault("git.lockTimeoutMs", d.Git.LockTimeoutMs)
	v.SetDefault("reopen.staleFixDays", d.Reopen.StaleFixDays)
	v.SetDefault("messages.maxLength", d.Messages.MaxLength)
	v.SetDefault("messages.dictionaryPath", d.Messages.DictionaryPath)
	v.SetDefault("jobs.workers", d.Jobs.Workers)
	v.SetDefault("jobs.queueSize", d.Jobs.QueueSize)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// LoadConfig loads configuration from <dataDir>/config.json. Unset keys keep
// their defaults and FAULTLINE_* environment variables override the file
// (e.g. FAULTLINE_GIT_LOCKTIMEOUTMS).
func LoadConfig(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = paths.DefaultDataDir
	}

	v := viper.New()
	defaults := DefaultConfig()
	defaults.DataDir = dataDir
	setDefaults(v, defaults)

	v.SetConfigFile(paths.ConfigPath(dataDir))
	v.SetConfigType("json")
	v.SetEnvPrefix("FAULTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.ProjectsFile == "" {
		cfg.ProjectsFile = paths.ProjectsPath(cfg.DataDir)
	}

	return &cfg, nil
}

// Save writes the configuration to <dataDir>/config.json
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Clean(paths.ConfigPath(c.DataDir)), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.DataDir == "" {
		return &ConfigError{Field: "dataDir", Message: "must not be empty"}
	}
	if c.BlameCache.MaxEntries <= 0 {
		return &ConfigError{Field: "blameCache.maxEntries", Message: "must be positive"}
	}
	if c.Git.BlameTimeoutMs <= 0 || c.Git.FetchTimeoutMs <= 0 || c.Git.LockTimeoutMs <= 0 {
		return &ConfigError{Field: "git", Message: "timeouts must be positive"}
	}
	if c.Reopen.StaleFixDays <= 0 {
		return &ConfigError{Field: "reopen.staleFixDays", Message: "must be positive"}
	}
	if c.Messages.MaxLength <= 0 {
		return &ConfigError{Field: "messages.maxLength", Message: "must be positive"}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be 'human' or 'json'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
