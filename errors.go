package tornago

import (
	"fmt"
)

// ErrorKind classifies errors for easier handling and retry decisions.
type ErrorKind string

// ErrorKind values classify errors by their category.
const (
	// ErrInvalidConfig indicates user-supplied configuration is invalid.
	ErrInvalidConfig ErrorKind = "invalid_config"
	// ErrTorBinaryNotFound indicates the tor executable could not be located.
	ErrTorBinaryNotFound ErrorKind = "tor_binary_not_found"
	// ErrTorLaunchFailed indicates tor failed to launch or exited unexpectedly.
	ErrTorLaunchFailed ErrorKind = "tor_launch_failed"
	// ErrControlAuthFailed indicates ControlPort authentication failed.
	ErrControlAuthFailed ErrorKind = "control_auth_failed"
	// ErrControlRequestFail indicates a ControlPort request returned an error.
	ErrControlRequestFail ErrorKind = "control_request_failed"
	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout ErrorKind = "timeout"
	// ErrIO wraps generic I/O errors.
	ErrIO ErrorKind = "io_error"
	// ErrHiddenServiceFailed indicates Hidden Service creation/removal failed.
	ErrHiddenServiceFailed ErrorKind = "hidden_service_failed"
	// ErrUnknown is used when no specific classification is available.
	ErrUnknown ErrorKind = "unknown"

	// ErrMalformedFrame indicates the line framer could not decode a control line.
	ErrMalformedFrame ErrorKind = "malformed_frame"
	// ErrTransportError indicates the underlying connection failed.
	ErrTransportError ErrorKind = "transport_error"
	// ErrAuthError indicates the authentication handshake failed.
	ErrAuthError ErrorKind = "auth_error"
	// ErrCommandError indicates a non-2xx reply to a queued command.
	ErrCommandError ErrorKind = "command_error"
	// ErrArityError indicates an info-tree leaf was called with the wrong arity.
	ErrArityError ErrorKind = "arity_error"
	// ErrUnknownKey indicates a config key is not part of the daemon's schema.
	ErrUnknownKey ErrorKind = "unknown_key"
	// ErrValidationError indicates a config write failed type validation.
	ErrValidationError ErrorKind = "validation_error"
	// ErrInvariantViolation indicates the state tracker observed an impossible transition.
	ErrInvariantViolation ErrorKind = "invariant_violation"
	// ErrSubprocessStderr indicates the launched tor process wrote to stderr.
	ErrSubprocessStderr ErrorKind = "subprocess_stderr"
	// ErrSubprocessExit indicates the launched tor process exited unexpectedly.
	ErrSubprocessExit ErrorKind = "subprocess_exit"
	// ErrSaveInProgress indicates a Config.Save call was attempted while another was outstanding.
	ErrSaveInProgress ErrorKind = "save_in_progress"
)

// TorError wraps an underlying error with a Kind and an optional operation
// label so callers can branch on error type while retaining context.
type TorError struct {
	// Kind classifies the error for programmatic handling.
	Kind ErrorKind
	// Op names the operation during which the error occurred.
	Op string
	// Msg carries an optional human-readable description.
	Msg string
	// Err stores the wrapped underlying error.
	Err error
}

// Error returns a formatted string that includes Kind, Op, and the wrapped error.
func (e *TorError) Error() string {
	if e == nil {
		return ""
	}

	message := string(e.Kind)
	if e.Op != "" {
		message = fmt.Sprintf("%s: %s", e.Op, message)
	}
	if e.Msg != "" {
		message = fmt.Sprintf("%s: %s", message, e.Msg)
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %s", message, e.Err)
	}
	return message
}

// Unwrap exposes the underlying error for errors.Is / errors.As compatibility.
func (e *TorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target has the same ErrorKind, enabling errors.Is checks.
func (e *TorError) Is(target error) bool {
	te, ok := target.(*TorError)
	if !ok {
		return false
	}
	if e == nil {
		return false
	}
	return e.Kind != "" && e.Kind == te.Kind
}

// newError constructs a TorError, defaulting Kind to ErrUnknown when empty.
func newError(kind ErrorKind, op, msg string, err error) *TorError {
	if kind == "" {
		kind = ErrUnknown
	}
	return &TorError{
		Kind: kind,
		Op:   op,
		Msg:  msg,
		Err:  err,
	}
}

// CommandError is returned by Engine.QueueCommand for a non-2xx reply; it
// carries the numeric status code alongside the response text so callers can
// branch on Tor's own error taxonomy (see control-spec.txt section 3.2).
type CommandError struct {
	// Code is the 3-digit status code from the reply (e.g. 510, 552).
	Code int
	// Text is the payload of every reply line, joined with "; ".
	Text string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command error %d: %s", e.Code, e.Text)
}

// As walks err's Unwrap chain and stores the first *TorError it finds in
// target.
func As(err error, target **TorError) bool {
	if err == nil {
		return false
	}
	for err != nil {
		if torErr, ok := err.(*TorError); ok { //nolint:errorlint // intentional type assertion
			*target = torErr
			return true
		}
		type unwrapper interface {
			Unwrap() error
		}
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
		} else {
			return false
		}
	}
	return false
}
