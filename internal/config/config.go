package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// ClientSecretsFileName is the OAuth client file looked up next to the config
	ClientSecretsFileName = "credentials.json"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "GDMIRROR_"
)

// Config holds application configuration
type Config struct {
	// DefaultProfile is the default authentication profile to use
	DefaultProfile string `json:"defaultProfile"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// ClientSecretsPath points at the Google OAuth client secrets file.
	// Empty means credentials.json in the config directory.
	ClientSecretsPath string `json:"clientSecretsPath,omitempty"`

	// MaxRetries is the maximum number of retries for API calls
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RetryMaxDelay caps a single backoff in milliseconds
	RetryMaxDelay int `json:"retryMaxDelay"`

	// RequestTimeout bounds a single command in seconds; 0 disables it
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color in console logs
	ColorOutput bool `json:"colorOutput"`

	// MirrorConcurrency is how many files of one directory upload at once
	MirrorConcurrency int `json:"mirrorConcurrency"`

	// MirrorPolicy is create or reuse
	MirrorPolicy string `json:"mirrorPolicy"`

	// CheckpointPath is the sqlite journal used by mirror --resume.
	// Empty means checkpoints.db in the config directory.
	CheckpointPath string `json:"checkpointPath,omitempty"`

	// ExcludePatterns are always applied by mirror
	ExcludePatterns []string `json:"excludePatterns,omitempty"`

	// DefaultExcludes adds the built-in VCS and OS junk patterns
	DefaultExcludes bool `json:"defaultExcludes"`
}

var validLogLevels = []string{"quiet", "normal", "verbose", "debug"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile:      "default",
		DefaultOutputFormat: types.OutputFormatTable,
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
		RetryMaxDelay:       utils.MaxRetryDelayMs,
		RequestTimeout:      0,
		LogLevel:            "normal",
		ColorOutput:         true,
		MirrorConcurrency:   1,
		MirrorPolicy:        "create",
		DefaultExcludes:     false,
	}
}

// Load reads the config at path (or the default location when path is
// empty), then applies environment overrides. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "CLIENT_SECRETS"); v != "" {
		c.ClientSecretsPath = v
	}
	setInt(&c.MaxRetries, EnvPrefix+"MAX_RETRIES")
	setInt(&c.RetryBaseDelay, EnvPrefix+"RETRY_BASE_DELAY")
	setInt(&c.RetryMaxDelay, EnvPrefix+"RETRY_MAX_DELAY")
	setInt(&c.RequestTimeout, EnvPrefix+"REQUEST_TIMEOUT")
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = ParseBool(v)
	}
	setInt(&c.MirrorConcurrency, EnvPrefix+"MIRROR_CONCURRENCY")
	if v := os.Getenv(EnvPrefix + "MIRROR_POLICY"); v != "" {
		c.MirrorPolicy = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPrefix + "CHECKPOINT_PATH"); v != "" {
		c.CheckpointPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXCLUDE"); v != "" {
		c.ExcludePatterns = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_EXCLUDES"); v != "" {
		c.DefaultExcludes = ParseBool(v)
	}
}

// setInt overwrites dst when the variable holds an integer
func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

// Save writes the configuration to path, or the default location
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultProfile == "" {
		return fmt.Errorf("default profile must not be empty")
	}

	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RetryMaxDelay < c.RetryBaseDelay || c.RetryMaxDelay > 300000 {
		return fmt.Errorf("retry max delay must be between the base delay and 300000ms, got: %d", c.RetryMaxDelay)
	}

	if c.RequestTimeout < 0 || c.RequestTimeout > 86400 {
		return fmt.Errorf("request timeout must be between 0 and 86400 seconds, got: %d", c.RequestTimeout)
	}

	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.MirrorConcurrency < 1 || c.MirrorConcurrency > 32 {
		return fmt.Errorf("mirror concurrency must be between 1 and 32, got: %d", c.MirrorConcurrency)
	}

	if c.MirrorPolicy != "create" && c.MirrorPolicy != "reuse" {
		return fmt.Errorf("invalid mirror policy: %s (must be 'create' or 'reuse')", c.MirrorPolicy)
	}

	for _, p := range c.ExcludePatterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("exclude patterns must not be empty")
		}
	}

	return nil
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRetryMaxDelay returns the backoff cap as a duration
func (c *Config) GetRetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetClientSecretsPath resolves the OAuth client secrets location
func (c *Config) GetClientSecretsPath() (string, error) {
	if c.ClientSecretsPath != "" {
		return c.ClientSecretsPath, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ClientSecretsFileName), nil
}

// GetCheckpointPath resolves the mirror checkpoint database location
func (c *Config) GetCheckpointPath() (string, error) {
	if c.CheckpointPath != "" {
		return c.CheckpointPath, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "checkpoints.db"), nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "gdmirror"), nil
}

// ParseBool treats true, 1, yes and on as true
func ParseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitList splits a comma separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
