// Package errors provides the typed error taxonomy shared across the
// agent system: validation, workspace, session, and execution errors.
package errors

import (
	"errors"
	"fmt"
)

// WorkspaceErrorKind categorizes workspace failures.
type WorkspaceErrorKind string

const (
	WorkspaceDuplicateID             WorkspaceErrorKind = "duplicate_id"
	WorkspaceGitUnavailable          WorkspaceErrorKind = "git_unavailable"
	WorkspaceCopyFailed              WorkspaceErrorKind = "copy_failed"
	WorkspaceCloneFailed             WorkspaceErrorKind = "clone_failed"
	WorkspaceCloneVerificationFailed WorkspaceErrorKind = "clone_verification_failed"
	WorkspaceNotTracked              WorkspaceErrorKind = "not_tracked"
)

// SessionErrorKind categorizes session (resume token) failures.
type SessionErrorKind string

const (
	SessionNotFound     SessionErrorKind = "not_found"
	SessionInvalidToken SessionErrorKind = "invalid_token"
)

// ExecutionErrorKind categorizes external process failures.
type ExecutionErrorKind string

const (
	ExecutionNoStructuredOutput ExecutionErrorKind = "no_structured_output"
	ExecutionRateLimited        ExecutionErrorKind = "rate_limited"
	ExecutionTimeout            ExecutionErrorKind = "timeout"
	ExecutionGeneric            ExecutionErrorKind = "generic"
)

// ValidationError reports a malformed resource mapping, a path-containment
// violation, or a malformed remote URL. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WorkspaceError reports a workspace lifecycle failure. Fatal; ephemeral
// workspaces roll back, persistent workspaces do not.
type WorkspaceError struct {
	ID   string
	Kind WorkspaceErrorKind
	Err  error
}

func (e *WorkspaceError) Error() string {
	msg := fmt.Sprintf("workspace %s: %s", e.ID, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// NewWorkspace creates a WorkspaceError for the given workspace id.
func NewWorkspace(id string, kind WorkspaceErrorKind, err error) *WorkspaceError {
	return &WorkspaceError{ID: id, Kind: kind, Err: err}
}

// SessionError reports an unknown or malformed resume token. Retrying with
// the same token cannot succeed, so it is never retried; the caller must
// start a fresh, tokenless call to recover.
type SessionError struct {
	Token string
	Kind  SessionErrorKind
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: token %q", e.Kind, e.Token)
}

// NewSession creates a SessionError for the given token.
func NewSession(token string, kind SessionErrorKind) *SessionError {
	return &SessionError{Token: token, Kind: kind}
}

// ExecutionError reports an external process failure: nonzero exit, timeout,
// rate limiting, or absent/unparsable JSON output. Retryable.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	Stderr string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := "execution " + string(e.Kind)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecution creates an ExecutionError carrying the raw stderr.
func NewExecution(kind ExecutionErrorKind, stderr string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Stderr: stderr, Err: err}
}

// Retryable reports whether err is transient and worth retrying.
// Only execution errors qualify: a stale token or a bad mapping will not
// become valid on a second attempt.
func Retryable(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsWorkspace reports whether err is a WorkspaceError of the given kind.
func IsWorkspace(err error, kind WorkspaceErrorKind) bool {
	var we *WorkspaceError
	return errors.As(err, &we) && we.Kind == kind
}

// IsSession reports whether err is a SessionError.
func IsSession(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// IsExecution reports whether err is an ExecutionError of the given kind.
func IsExecution(err error, kind ExecutionErrorKind) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Kind == kind
}
