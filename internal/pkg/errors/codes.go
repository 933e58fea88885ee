package errors

import "fmt"

// Error code constants. Messages are English and meant for operators reading stderr.

// Build step error codes.
const (
	CodeRunnerNotFound  = "RUNNER_NOT_FOUND"
	CodeProcessFailed   = "PROCESS_FAILED"
	CodeTimeoutExceeded = "TIMEOUT_EXCEEDED"
)

// Artifact error codes.
const (
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeArtifactInvalid  = "ARTIFACT_INVALID"
)

// Presence error codes. Presence failures are soft: logged, never returned by the pipeline.
const (
	CodePresenceProbeFailed = "PRESENCE_PROBE_FAILED"
)

// Wiki error codes.
const (
	CodeWikiReadFailed   = "WIKI_READ_FAILED"
	CodeWikiUpdateFailed = "WIKI_UPDATE_FAILED"
)

// Validation error codes.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeConfigInvalid   = "CONFIG_INVALID"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitInvalidArgument = 2
	ExitInvalidArtifact = 3
)

// ExitCode maps an error to the process exit code of the CLI.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case HasCode(err, CodeInvalidArgument), HasCode(err, CodeConfigInvalid):
		return ExitInvalidArgument
	case HasCode(err, CodeArtifactInvalid):
		return ExitInvalidArtifact
	default:
		return ExitFailure
	}
}

// Convenience constructors using predefined codes.

// ErrInvalidArgumentf creates a validation error for a bad flag or argument value.
func ErrInvalidArgumentf(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalid,
	}
}

// ErrConfigInvalidf creates a configuration validation error.
func ErrConfigInvalidf(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalid,
	}
}
