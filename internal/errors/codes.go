package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Counter source errors
	ErrCounterInit    ErrorCode = "counter_init_failed"
	ErrCounterRefresh ErrorCode = "counter_refresh_failed"

	// Subscription errors
	ErrDeliveryFailed ErrorCode = "delivery_failed"
	ErrSubscriberGone ErrorCode = "subscriber_gone"

	// Host query errors
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"

	// Process errors
	ErrCollectProcesses ErrorCode = "collect_processes_failed"
	ErrProcessNotFound  ErrorCode = "process_not_found"
	ErrKillProcess      ErrorCode = "kill_process_failed"

	// Auth errors
	ErrAuthNotInitialized ErrorCode = "auth_not_initialized"
	ErrUnauthorized       ErrorCode = "unauthorized"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrInvalidConfig:      "Invalid configuration",
	ErrBindFlags:          "Failed to bind flags",
	ErrReadConfig:         "Failed to read config file",
	ErrInvalidInterval:    "Invalid interval value",
	ErrInvalidLogLevel:    "Invalid log level",
	ErrCounterInit:        "Failed to initialize CPU counters",
	ErrCounterRefresh:     "Failed to refresh CPU counters",
	ErrDeliveryFailed:     "Failed to deliver sample batch",
	ErrSubscriberGone:     "Subscriber is no longer receiving",
	ErrCollectMetrics:     "Failed to collect metrics data",
	ErrCollectProcesses:   "Failed to list processes",
	ErrProcessNotFound:    "Process does not exist",
	ErrKillProcess:        "Failed to kill process",
	ErrAuthNotInitialized: "Auth service not initialized",
	ErrUnauthorized:       "Unauthorized",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
