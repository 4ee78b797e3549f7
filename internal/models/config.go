package models

// Config holds the application configuration
type Config struct {
	API         APIConfig         `json:"api" yaml:"api"`
	Socket      SocketConfig      `json:"socket" yaml:"socket"`
	Chat        ChatConfig        `json:"chat" yaml:"chat"`
	Interaction InteractionConfig `json:"interaction" yaml:"interaction"`
	Attachments AttachmentConfig  `json:"attachments" yaml:"attachments"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Auth        AuthConfig        `json:"auth" yaml:"auth"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
}

// APIConfig holds REST backend settings
type APIConfig struct {
	BaseURL            string `json:"base_url" yaml:"base_url"`
	TimeoutSec         int    `json:"timeout_sec" yaml:"timeout_sec"`
	BreakerMaxFailures int    `json:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerCooldownSec int    `json:"breaker_cooldown_sec" yaml:"breaker_cooldown_sec"`
}

// SocketConfig holds WebSocket transport settings
type SocketConfig struct {
	URL               string `json:"url" yaml:"url"`
	ReconnectAttempts int    `json:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelayMs  int    `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	WriteTimeoutSec   int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// ChatConfig holds messaging policy settings
type ChatConfig struct {
	PageSize            int `json:"page_size" yaml:"page_size"`
	PendingMessageLimit int `json:"pending_message_limit" yaml:"pending_message_limit"`
	TypingWindowMs      int `json:"typing_window_ms" yaml:"typing_window_ms"`
}

// InteractionConfig holds gesture thresholds
type InteractionConfig struct {
	LongPressMs    int     `json:"long_press_ms" yaml:"long_press_ms"`
	SwipeThreshold float64 `json:"swipe_threshold_px" yaml:"swipe_threshold_px"`
}

// AttachmentConfig holds refreshed-URL cache settings
type AttachmentConfig struct {
	CacheSize       int `json:"cache_size" yaml:"cache_size"`
	CacheTTLMinutes int `json:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
	CheckTimeoutSec int `json:"check_timeout_sec" yaml:"check_timeout_sec"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// AuthConfig carries the credentials of the authenticated session
type AuthConfig struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Token  string `json:"token" yaml:"token"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
