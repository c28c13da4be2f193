package warden

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for policy enforcement.
var (
	// ErrPolicyDenied is returned when a guard rejects an operation or a
	// post-check finds fewer permitted rows than candidates.
	ErrPolicyDenied = errors.New("warden: operation denied by policy")

	// ErrNotFound is returned when a referenced row does not exist,
	// independent of policy.
	ErrNotFound = errors.New("warden: entity not found")

	// ErrConfig is returned on invariant violations in compiled metadata,
	// such as a missing guard-table entry or a relation lacking the
	// expected back-reference. It signals a schema/compiler defect, never
	// a policy decision.
	ErrConfig = errors.New("warden: invalid configuration")
)

// PolicyDeniedError reports a policy denial. It carries the model and
// operation that were denied and, for post-checks, the number of candidate
// rows that failed the guard. For writes it unwinds the enclosing
// transaction; it is never retried.
type PolicyDeniedError struct {
	Model    string
	Op       Op
	Rejected int // rows rejected by a count-comparison check; 0 if denied up front
	Reason   string
}

// Error returns the error string.
func (e *PolicyDeniedError) Error() string {
	switch {
	case e.Rejected > 0:
		return fmt.Sprintf("warden: policy denied %s on %s (%d rows rejected)", e.Op, e.Model, e.Rejected)
	case e.Reason != "":
		return fmt.Sprintf("warden: policy denied %s on %s: %s", e.Op, e.Model, e.Reason)
	default:
		return fmt.Sprintf("warden: policy denied %s on %s", e.Op, e.Model)
	}
}

// Is reports whether the target error matches ErrPolicyDenied.
func (e *PolicyDeniedError) Is(err error) bool { return err == ErrPolicyDenied }

// DeniedError returns a PolicyDeniedError for the given model and operation.
func DeniedError(model string, op Op) *PolicyDeniedError {
	return &PolicyDeniedError{Model: model, Op: op}
}

// RejectedError returns a PolicyDeniedError reporting rows rejected by a
// count-comparison check.
func RejectedError(model string, op Op, rejected int) *PolicyDeniedError {
	return &PolicyDeniedError{Model: model, Op: op, Rejected: rejected}
}

// IsPolicyDenied returns true if the error is a policy denial.
func IsPolicyDenied(err error) bool {
	if err == nil {
		return false
	}
	var e *PolicyDeniedError
	return errors.As(err, &e) || errors.Is(err, ErrPolicyDenied)
}

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	model string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("warden: %s not found (id=%v)", e.model, e.id)
	}
	return fmt.Sprintf("warden: %s not found", e.model)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// Model returns the entity model name.
func (e *NotFoundError) Model() string { return e.model }

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError returns a new NotFoundError for the given model.
func NewNotFoundError(model string) *NotFoundError {
	return &NotFoundError{model: model}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was
// searched for.
func NewNotFoundErrorWithID(model string, id any) *NotFoundError {
	return &NotFoundError{model: model, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ConfigError represents an invariant violation in compiled metadata: a
// missing guard-table entry, a malformed traversal path, or a relation
// without the expected back-reference. It is always fatal to the call and
// should be logged distinctly from policy denials.
type ConfigError struct {
	msg string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("warden: configuration: %s", e.msg)
}

// Is reports whether the target error matches ErrConfig.
func (e *ConfigError) Is(err error) bool { return err == ErrConfig }

// NewConfigError returns a new ConfigError with a formatted message.
func NewConfigError(format string, a ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, a...)}
}

// IsConfigError returns true if the error is a ConfigError.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e) || errors.Is(err, ErrConfig)
}

// ConstraintError represents a store constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("warden: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// QueryError wraps a read error with the model and operation for context.
type QueryError struct {
	Model string // Model being queried
	Op    string // Operation (e.g., "find", "count")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	return fmt.Sprintf("warden: querying %s (%s): %v", e.Model, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a new QueryError.
func NewQueryError(model, op string, err error) *QueryError {
	return &QueryError{Model: model, Op: op, Err: err}
}

// MutationError wraps a write error with the model and operation for context.
type MutationError struct {
	Model string // Model being mutated
	Op    string // Operation (e.g., "create", "update", "delete")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("warden: %s %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error { return e.Err }

// NewMutationError returns a new MutationError.
func NewMutationError(model, op string, err error) *MutationError {
	return &MutationError{Model: model, Op: op, Err: err}
}

// RollbackError wraps an error that occurred while rolling back a
// transaction after a failed write or post-check.
type RollbackError struct {
	Err error // Original error that triggered the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("warden: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error { return e.Err }
