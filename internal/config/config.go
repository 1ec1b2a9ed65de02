// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes environment overrides of any key, e.g.
// GENIE_BOT_SERVER_PORT for server.port
const EnvPrefix = "GENIE_BOT"

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Bot     BotConfig     `mapstructure:"bot"`
	Genie   GenieConfig   `mapstructure:"genie"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxPending      int           `mapstructure:"max_pending"`
}

// BotConfig contains the Bot Framework registration and sign-in settings
type BotConfig struct {
	AppID               string          `mapstructure:"app_id"`
	AppPassword         string          `mapstructure:"app_password"`
	TenantID            string          `mapstructure:"tenant_id"`
	OAuthConnectionName string          `mapstructure:"oauth_connection_name"`
	OAuthTimeout        time.Duration   `mapstructure:"oauth_timeout"`
	WelcomeMessage      string          `mapstructure:"welcome_message"`
	TokenServiceURL     string          `mapstructure:"token_service_url"`
	OpenIDMetadataURL   string          `mapstructure:"openid_metadata_url"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits messages per user
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// GenieConfig contains the Databricks workspace and Genie space
type GenieConfig struct {
	Host           string        `mapstructure:"host"`
	SpaceID        string        `mapstructure:"space_id"`
	ValidateClient bool          `mapstructure:"validate_client"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around Genie calls
type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// StateConfig selects the conversation and user state storage
type StateConfig struct {
	StorageType string `mapstructure:"storage_type"`
	DBPath      string `mapstructure:"db_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Running on defaults and environment alone is allowed
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config, opts.ValidateRequired); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3978)
	v.SetDefault("server.turn_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_pending", 100)

	// Bot defaults
	v.SetDefault("bot.app_id", "")
	v.SetDefault("bot.app_password", "")
	v.SetDefault("bot.tenant_id", "")
	v.SetDefault("bot.oauth_connection_name", "")
	v.SetDefault("bot.oauth_timeout", 300*time.Second)
	v.SetDefault("bot.welcome_message", "Welcome to AuthenticationBot. Type anything to get logged in. "+
		"Type 'logout' to sign-out. Test Teams bot")
	v.SetDefault("bot.token_service_url", "https://api.botframework.com")
	v.SetDefault("bot.openid_metadata_url", "https://login.botframework.com/v1/.well-known/openidconfiguration")
	v.SetDefault("bot.rate_limit.requests_per_minute", 30)
	v.SetDefault("bot.rate_limit.burst", 5)

	// Genie defaults
	v.SetDefault("genie.host", "")
	v.SetDefault("genie.space_id", "")
	v.SetDefault("genie.validate_client", true)
	v.SetDefault("genie.breaker.max_failures", 5)
	v.SetDefault("genie.breaker.reset_timeout", 30*time.Second)

	// State defaults
	v.SetDefault("state.storage_type", "memory")
	v.SetDefault("state.db_path", "./data/bot_state.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// setConfigFile sets the configuration file path with fallback logic. An
// explicitly named file must exist; the default locations may be empty.
func setConfigFile(v *viper.Viper, configPath string) error {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"PORT":                    "server.port",
		"MICROSOFT_APP_ID":        "bot.app_id",
		"MICROSOFT_APP_PASSWORD":  "bot.app_password",
		"MICROSOFT_APP_TENANT_ID": "bot.tenant_id",
		"OAUTH_CONNECTION_NAME":   "bot.oauth_connection_name",
		"DATABRICKS_HOST":         "genie.host",
		"DATABRICKS_SPACE_ID":     "genie.space_id",
		"STATE_STORAGE_TYPE":      "state.storage_type",
		"STATE_DB_PATH":           "state.db_path",
		"LOG_LEVEL":               "logging.level",
		"LOG_FORMAT":              "logging.format",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig checks value ranges always, and required fields when
// requireFields is set
func validateConfig(config *Config, requireFields bool) error {
	var errs []ValidationError

	if requireFields {
		if config.Genie.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "genie.host",
				Message: "Databricks host is required. Set via config file or DATABRICKS_HOST environment variable",
			})
		}
		if config.Genie.SpaceID == "" {
			errs = append(errs, ValidationError{
				Field:   "genie.space_id",
				Message: "Genie space id is required. Set via config file or DATABRICKS_SPACE_ID environment variable",
			})
		}
		if config.Bot.OAuthConnectionName == "" {
			errs = append(errs, ValidationError{
				Field:   "bot.oauth_connection_name",
				Message: "OAuth connection name is required. Set via config file or OAUTH_CONNECTION_NAME environment variable",
			})
		}
		if config.Bot.AppID != "" && config.Bot.AppPassword == "" {
			errs = append(errs, ValidationError{
				Field:   "bot.app_password",
				Message: "app password is required when an app id is set",
			})
		}
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.Server.TurnTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.turn_timeout",
			Message: "turn_timeout must be greater than 0",
		})
	}

	if config.Bot.OAuthTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "bot.oauth_timeout",
			Message: "oauth_timeout must be greater than 0",
		})
	}

	if config.Bot.RateLimit.RequestsPerMinute < 0 || config.Bot.RateLimit.Burst < 0 {
		errs = append(errs, ValidationError{
			Field:   "bot.rate_limit",
			Message: "rate limit values must not be negative",
		})
	}

	if config.Genie.Breaker.MaxFailures <= 0 {
		errs = append(errs, ValidationError{
			Field:   "genie.breaker.max_failures",
			Message: "max_failures must be greater than 0",
		})
	}

	enums := []struct {
		field, value, noun string
		allowed            []string
	}{
		{"logging.level", config.Logging.Level, "log level", []string{"debug", "info", "warn", "error"}},
		{"logging.format", config.Logging.Format, "log format", []string{"json", "text"}},
		{"state.storage_type", config.State.StorageType, "storage type", []string{"memory", "sqlite"}},
	}
	for _, enum := range enums {
		if !slices.Contains(enum.allowed, enum.value) {
			errs = append(errs, ValidationError{
				Field:   enum.field,
				Message: fmt.Sprintf("%s must be one of: %s", enum.noun, strings.Join(enum.allowed, ", ")),
			})
		}
	}

	if config.State.StorageType == "sqlite" {
		if config.State.DBPath == "" {
			errs = append(errs, ValidationError{
				Field:   "state.db_path",
				Message: "state database path is required for sqlite storage",
			})
		} else if err := validateParentDirectory(config.State.DBPath); err != nil {
			errs = append(errs, ValidationError{
				Field:   "state.db_path",
				Message: err.Error(),
			})
		}
	}

	if len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, err := range errs {
			lines[i] = err.Error()
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(lines, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.Bot.AppPassword != "" {
		masked.Bot.AppPassword = maskValue(masked.Bot.AppPassword)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 4 characters
func maskValue(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-4)
}

// validateParentDirectory checks that path's directory exists or can be
// created when the storage opens
func validateParentDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}

	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}
	return nil
}

// WatchConfig reloads the configuration when the file changes and passes
// every valid reload to callback
func WatchConfig(configPath string, logger *zap.Logger, callback func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	if err := setConfigFile(v, configPath); err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed", zap.String("file", e.Name))

		config, err := Load(configPath)
		if err != nil {
			logger.Warn("Failed to reload config", zap.Error(err))
			return
		}
		callback(config)
	})
	v.WatchConfig()

	return nil
}
