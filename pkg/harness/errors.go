// Package harness defines the error taxonomy shared by every benchmark component
// and the mapping from error codes to process exit statuses.
package harness

import (
	"errors"
	"fmt"
)

// Code classifies a harness failure.
type Code string

const (
	// CodeToolchainNotFound means no toolchain init-script candidate exists.
	CodeToolchainNotFound Code = "TOOLCHAIN_NOT_FOUND"

	// CodeToolchainEnvInvalid means required toolchain marker variables are missing.
	CodeToolchainEnvInvalid Code = "TOOLCHAIN_ENV_INVALID"

	// CodeDownloadFailed means the source archive could not be fetched.
	CodeDownloadFailed Code = "DOWNLOAD_FAILED"

	// CodeExtractFailed means the source archive could not be extracted.
	CodeExtractFailed Code = "EXTRACT_FAILED"

	// CodeDeleteFailed means a directory tree survived every delete attempt.
	CodeDeleteFailed Code = "DELETE_FAILED"

	// CodeBuildStepFailed means a native build step exited non-zero.
	CodeBuildStepFailed Code = "BUILD_STEP_FAILED"

	// CodePredecessorNotSatisfied means a phase ran before its required predecessor succeeded.
	CodePredecessorNotSatisfied Code = "PREDECESSOR_NOT_SATISFIED"

	// CodeDaemonStartFailed means the cache daemon process could not be spawned.
	CodeDaemonStartFailed Code = "DAEMON_START_FAILED"

	// CodeConfigInvalid means the harness configuration failed validation.
	CodeConfigInvalid Code = "CONFIG_INVALID"

	// CodeLockHeld means another harness instance owns the run lock.
	CodeLockHeld Code = "LOCK_HELD"
)

// Error is a classified harness failure with the context an operator needs
// to act on it.
type Error struct {
	// Code is the failure classification.
	Code Code `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the filesystem path involved, if any.
	Path string `json:"path,omitempty"`

	// Step is the build step that failed, if any.
	Step string `json:"step,omitempty"`

	// ExitCode is the exit status of the failed process, if any.
	ExitCode int `json:"exit_code,omitempty"`

	// Output is the combined output captured from the failed process.
	Output []byte `json:"-"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s, exit_code=%d)", msg, e.Step, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a harness error with the same code, so that
// errors.Is(err, &Error{Code: CodeDeleteFailed}) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewToolchainNotFound reports that none of the candidates exist.
func NewToolchainNotFound(candidates []string) *Error {
	return &Error{
		Code:    CodeToolchainNotFound,
		Message: fmt.Sprintf("no toolchain init script found among %d candidates", len(candidates)),
	}
}

// NewToolchainEnvInvalid reports missing toolchain marker variables.
func NewToolchainEnvInvalid(missing []string) *Error {
	return &Error{
		Code:    CodeToolchainEnvInvalid,
		Message: fmt.Sprintf("toolchain variables %v are not set; run from a toolchain-initialized shell", missing),
	}
}

// NewDownloadFailed reports a failed archive fetch.
func NewDownloadFailed(url string, err error) *Error {
	return &Error{
		Code:    CodeDownloadFailed,
		Message: fmt.Sprintf("failed to download %s", url),
		Err:     err,
	}
}

// NewExtractFailed reports a failed archive extraction.
func NewExtractFailed(archive string, err error) *Error {
	return &Error{
		Code:    CodeExtractFailed,
		Message: "failed to extract archive",
		Path:    archive,
		Err:     err,
	}
}

// NewDeleteFailed reports a directory that could not be removed.
func NewDeleteFailed(path string, attempts int, err error) *Error {
	return &Error{
		Code:    CodeDeleteFailed,
		Message: fmt.Sprintf("could not delete after %d attempts", attempts),
		Path:    path,
		Err:     err,
	}
}

// NewBuildStepFailed reports a build step that exited non-zero.
func NewBuildStepFailed(step string, exitCode int, output []byte) *Error {
	return &Error{
		Code:     CodeBuildStepFailed,
		Message:  "build step failed",
		Step:     step,
		ExitCode: exitCode,
		Output:   output,
	}
}

// NewPredecessorNotSatisfied reports a phase whose gate is closed.
func NewPredecessorNotSatisfied(phase, predecessor string) *Error {
	return &Error{
		Code:    CodePredecessorNotSatisfied,
		Message: fmt.Sprintf("phase %s requires a successful %s phase first", phase, predecessor),
	}
}

// NewDaemonStartFailed reports a cache daemon that could not be spawned.
func NewDaemonStartFailed(binary string, err error) *Error {
	return &Error{
		Code:    CodeDaemonStartFailed,
		Message: "failed to start cache daemon",
		Path:    binary,
		Err:     err,
	}
}

// NewConfigInvalid reports an invalid configuration.
func NewConfigInvalid(message string, err error) *Error {
	return &Error{
		Code:    CodeConfigInvalid,
		Message: message,
		Err:     err,
	}
}

// NewLockHeld reports a run lock owned by another process.
func NewLockHeld(path string, err error) *Error {
	return &Error{
		Code:    CodeLockHeld,
		Message: "another benchmark run holds the lock",
		Path:    path,
		Err:     err,
	}
}

// HasCode returns true if err is, or wraps, a harness error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// AsError extracts the harness error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Exit codes for the oslbench command.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitConfigError  = 2
	ExitToolchain    = 3
	ExitProvisioning = 4
	ExitBuildFailed  = 5
	ExitGateClosed   = 6
	ExitDaemon       = 7
)

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	e, ok := AsError(err)
	if !ok {
		return ExitGeneralError
	}
	switch e.Code {
	case CodeConfigInvalid, CodeLockHeld:
		return ExitConfigError
	case CodeToolchainNotFound, CodeToolchainEnvInvalid:
		return ExitToolchain
	case CodeDownloadFailed, CodeExtractFailed, CodeDeleteFailed:
		return ExitProvisioning
	case CodeBuildStepFailed:
		return ExitBuildFailed
	case CodePredecessorNotSatisfied:
		return ExitGateClosed
	case CodeDaemonStartFailed:
		return ExitDaemon
	default:
		return ExitGeneralError
	}
}
