package constants

// Conversation acceptance policy
const (
	DefaultPendingMessageLimit = 3
)

// Default paging and timing values
const (
	DefaultPageSize             = 30
	DefaultConversationPageSize = 20
	DefaultTypingWindowMs       = 3000
	DefaultHTTPTimeoutSec       = 30
	DefaultWriteTimeoutSec      = 10
	DefaultGracefulShutdownSec  = 5
	DefaultRefreshIntervalSec   = 30
)

// Transport reconnection uses a fixed delay for a bounded number of attempts
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelayMs  = 2000
	DefaultSocketReadLimit   = 1 << 20
)

// REST circuit breaker
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerCooldownSec = 30
)

// Gesture thresholds
const (
	DefaultLongPressMs      = 500
	DefaultSwipeThresholdPx = 60.0
	DefaultSwipeSlopPx      = 10.0
	DefaultSwipeMaxOffsetPx = 120.0
)

// Attachment URL cache
const (
	DefaultURLCacheSize       = 256
	DefaultURLCacheTTLMinutes = 30
	DefaultURLCheckTimeoutSec = 10
)

// Status updates held for messages not loaded yet
const (
	DefaultEarlyStatusLimit      = 512
	DefaultEarlyStatusTTLMinutes = 5
)

// Privacy settings
const (
	DefaultIDVisibleChars = 4
)

// Observability
const (
	DefaultServiceName      = "chatcore"
	DefaultMetricsNamespace = "chatcore"
	DefaultTraceSampleRate  = 0.1
)

// Input limits
const (
	MaxContentLength    = 4096
	MaxCaptionLength    = 1024
	MaxIDLength         = 128
	MaxDocumentSizeMB   = 25
	MaxReportReasonSize = 500
)
