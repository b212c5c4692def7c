package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Broker & Connector errors
// 12000-12999: Sandbox & Process errors
// 13000-13999: Resource errors
// 14000-14999: Middleware errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError      ErrorCode = 10001
	InvalidParams      ErrorCode = 10002
	NotFound           ErrorCode = 10003
	Timeout            ErrorCode = 10004
	ServiceUnavailable ErrorCode = 10005

	// Configuration errors (10100-10199)
	ConfigInvalid      ErrorCode = 10100
	ConfigMissingField ErrorCode = 10101

	// Store errors (10200-10299)
	StoreError    ErrorCode = 10200
	StoreKeyError ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidValue       ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Broker & Connector Errors (11000-11999) ==========

	// Broker (11000-11099)
	BrokerError     ErrorCode = 11000
	BrokerClosed    ErrorCode = 11001
	PublishFailed   ErrorCode = 11002
	SubscribeFailed ErrorCode = 11003
	HeartbeatFailed ErrorCode = 11004

	// Connector (11100-11199)
	DuplicateConnector ErrorCode = 11100
	ConnectorNotFound  ErrorCode = 11101
	ConnectorSetup     ErrorCode = 11102
	EndpointNotAllowed ErrorCode = 11103

	// Worker lifecycle (11200-11299)
	WorkerStartFailed    ErrorCode = 11200
	WorkerNotStarted     ErrorCode = 11201
	WorkerAlreadyStarted ErrorCode = 11202

	// ========== Sandbox & Process Errors (12000-12999) ==========

	// Process lifecycle (12000-12099)
	ProcessSpawnFailed ErrorCode = 12000
	ProcessStartFailed ErrorCode = 12001
	ProcessKilled      ErrorCode = 12002
	ProcessTimeout     ErrorCode = 12003
	RecvLimitExceeded  ErrorCode = 12004

	// Protocol (12100-12199)
	ProtocolViolation ErrorCode = 12100
	CommandParse      ErrorCode = 12101
	UnknownCommand    ErrorCode = 12102
	SandboxBound      ErrorCode = 12103

	// Limits (12200-12299)
	RlimitInvalid ErrorCode = 12200

	// ========== Resource Errors (13000-13999) ==========

	ResourceError       ErrorCode = 13000
	ResourceNotFound    ErrorCode = 13001
	ResourceConfig      ErrorCode = 13002
	ResourceNameInvalid ErrorCode = 13003
	TooManyKeys         ErrorCode = 13100
	ValueNotNumeric     ErrorCode = 13101
	RequestTooLarge     ErrorCode = 13102

	// ========== Middleware Errors (14000-14999) ==========

	MiddlewareError  ErrorCode = 14000
	MiddlewareConfig ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:            "Success",
	InternalError:      "Internal error",
	InvalidParams:      "Invalid parameters",
	NotFound:           "Resource not found",
	Timeout:            "Operation timed out",
	ServiceUnavailable: "Service temporarily unavailable",

	// Configuration
	ConfigInvalid:      "Invalid configuration",
	ConfigMissingField: "Required configuration field is missing",

	// Store
	StoreError:    "Key-value store operation failed",
	StoreKeyError: "Key-value store key error",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Broker
	BrokerError:     "Broker operation failed",
	BrokerClosed:    "Broker is closed",
	PublishFailed:   "Failed to publish message",
	SubscribeFailed: "Failed to subscribe to routing key",
	HeartbeatFailed: "Failed to publish heartbeat",

	// Connector
	DuplicateConnector: "Connector with this name already exists",
	ConnectorNotFound:  "Connector not found",
	ConnectorSetup:     "Connector setup failed",
	EndpointNotAllowed: "Endpoint is not in the allowed endpoint set",

	// Worker lifecycle
	WorkerStartFailed:    "Worker start sequence failed",
	WorkerNotStarted:     "Worker is not started",
	WorkerAlreadyStarted: "Worker is already started",

	// Process lifecycle
	ProcessSpawnFailed: "Failed to spawn sandboxed process",
	ProcessStartFailed: "Process failed to start",
	ProcessKilled:      "Process was killed",
	ProcessTimeout:     "Process exceeded its run timeout",
	RecvLimitExceeded:  "Process exceeded its receive byte limit",

	// Protocol
	ProtocolViolation: "Sandbox protocol violation",
	CommandParse:      "Failed to parse sandbox command",
	UnknownCommand:    "Unknown sandbox command",
	SandboxBound:      "Sandbox already bound to a dispatcher",

	// Limits
	RlimitInvalid: "Unknown resource limit key",

	// Resource
	ResourceError:       "Resource operation failed",
	ResourceNotFound:    "Resource not found",
	ResourceConfig:      "Invalid resource configuration",
	ResourceNameInvalid: "Invalid resource name",
	TooManyKeys:         "Too many keys",
	ValueNotNumeric:     "Value is not numeric",
	RequestTooLarge:     "Request exceeds the configured size limit",

	// Middleware
	MiddlewareError:  "Middleware processing failed",
	MiddlewareConfig: "Invalid middleware configuration",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}
