package errors

// Code represents an error code
type Code string

const (
	CodeInternalError        Code = "INTERNAL_ERROR"        // Internal system error
	CodeInvalidParameter     Code = "INVALID_PARAMETER"     // Invalid parameter provided
	CodeMissingParameter     Code = "MISSING_PARAMETER"     // Required parameter missing
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID" // Configuration invalid
	CodeIoError              Code = "IO_ERROR"              // Input/output operation failed
	CodeFileNotFound         Code = "FILE_NOT_FOUND"        // File not found
	CodeCommandFailed        Code = "COMMAND_FAILED"        // Child process exited non-zero
	CodeStepFailed           Code = "STEP_FAILED"           // Pipeline step failed
	CodeTimeoutError         Code = "TIMEOUT_ERROR"         // Timeout error
	CodeNetworkError         Code = "NETWORK_ERROR"         // Network error
	CodeBuildFailed          Code = "BUILD_FAILED"          // Package build failed
)
