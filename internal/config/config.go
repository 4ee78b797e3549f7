package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chatcore/internal/constants"
	"chatcore/internal/models"
	"chatcore/internal/security"
	"chatcore/internal/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAPIURL    = models.ConfigError{Message: "missing chat API base URL"}
	ErrMissingSocketURL = models.ConfigError{Message: "missing socket URL"}
	ErrMissingUserID    = models.ConfigError{Message: "missing authenticated user id"}
	ErrMissingToken     = models.ConfigError{Message: "missing session token"}
)

// Environment variables that override file values
const (
	EnvAPIURL   = "CHATCORE_API_URL"
	EnvWSURL    = "CHATCORE_WS_URL"
	EnvToken    = "CHATCORE_TOKEN"
	EnvUserID   = "CHATCORE_USER_ID"
	EnvLogLevel = "CHATCORE_LOG_LEVEL"
	EnvPageSize = "CHATCORE_PAGE_SIZE"
	EnvOTLP     = "CHATCORE_OTLP_ENDPOINT"
)

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file without overriding
// variables already present in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadConfig reads a JSON or YAML config file, applies environment
// overrides and defaults, then validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// FromEnvironment builds a config purely from environment variables.
func FromEnvironment() (*models.Config, error) {
	var config models.Config
	applyEnvironmentOverrides(&config)
	applyDefaults(&config)
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv(EnvAPIURL); url != "" {
		c.API.BaseURL = url
	}
	if url := os.Getenv(EnvWSURL); url != "" {
		c.Socket.URL = url
	}
	// Credentials belong in the environment, not the config file
	if token := os.Getenv(EnvToken); token != "" {
		c.Auth.Token = token
	}
	if id := os.Getenv(EnvUserID); id != "" {
		c.Auth.UserID = id
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	if size := os.Getenv(EnvPageSize); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			c.Chat.PageSize = n
		}
	}
	if endpoint := os.Getenv(EnvOTLP); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}
}

func applyDefaults(c *models.Config) {
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.API.BreakerMaxFailures <= 0 {
		c.API.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.API.BreakerCooldownSec <= 0 {
		c.API.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}

	if c.Socket.ReconnectAttempts <= 0 {
		c.Socket.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if c.Socket.ReconnectDelayMs <= 0 {
		c.Socket.ReconnectDelayMs = constants.DefaultReconnectDelayMs
	}
	if c.Socket.WriteTimeoutSec <= 0 {
		c.Socket.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}

	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = constants.DefaultPageSize
	}
	if c.Chat.PendingMessageLimit <= 0 {
		c.Chat.PendingMessageLimit = constants.DefaultPendingMessageLimit
	}
	if c.Chat.TypingWindowMs <= 0 {
		c.Chat.TypingWindowMs = constants.DefaultTypingWindowMs
	}

	if c.Interaction.LongPressMs <= 0 {
		c.Interaction.LongPressMs = constants.DefaultLongPressMs
	}
	if c.Interaction.SwipeThreshold <= 0 {
		c.Interaction.SwipeThreshold = constants.DefaultSwipeThresholdPx
	}

	if c.Attachments.CacheSize <= 0 {
		c.Attachments.CacheSize = constants.DefaultURLCacheSize
	}
	if c.Attachments.CacheTTLMinutes <= 0 {
		c.Attachments.CacheTTLMinutes = constants.DefaultURLCacheTTLMinutes
	}
	if c.Attachments.CheckTimeoutSec <= 0 {
		c.Attachments.CheckTimeoutSec = constants.DefaultURLCheckTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = constants.DefaultServiceName
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = constants.DefaultTraceSampleRate
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = constants.DefaultMetricsNamespace
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.API.BaseURL == "" {
		return ErrMissingAPIURL
	}
	if c.Socket.URL == "" {
		return ErrMissingSocketURL
	}
	if c.Auth.UserID == "" {
		return ErrMissingUserID
	}
	if c.Auth.Token == "" {
		return ErrMissingToken
	}

	if err := validation.ValidateTimeout(c.API.TimeoutSec, "api.timeout_sec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Chat.PageSize, "chat.page_size", 1, 200); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Socket.ReconnectAttempts, "socket.reconnect_attempts", 1, 100); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown log level: %s", c.LogLevel)}
	}
	return nil
}
