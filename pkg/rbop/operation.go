// Package rbop implements the Reliable Background Operation Processor: a
// durable, single-consumer work queue that serializes filesystem-change
// notifications from a virtual-filesystem driver back into Git
// index/working-tree state, coordinating exclusive access to a shared
// GitLock across the whole drain.
package rbop

import (
	"github.com/google/uuid"
)

// OperationKind identifies what a BackgroundOperation asks the consumer
// to do to the working tree.
type OperationKind int

const (
	// OpKindUpdatePlaceholder refreshes a placeholder file/directory to
	// match the current Git index entry at Path.
	OpKindUpdatePlaceholder OperationKind = iota
	// OpKindDeletePlaceholder removes a placeholder at Path.
	OpKindDeletePlaceholder
	// OpKindRename moves the working-tree entry from Path to SecondaryPath.
	OpKindRename
	// OpKindModified marks Path as locally modified, taking it out of
	// virtualized (lazy) state.
	OpKindModified
)

func (k OperationKind) String() string {
	switch k {
	case OpKindUpdatePlaceholder:
		return "update-placeholder"
	case OpKindDeletePlaceholder:
		return "delete-placeholder"
	case OpKindRename:
		return "rename"
	case OpKindModified:
		return "modified"
	default:
		return "unknown"
	}
}

// OperationID is a 128-bit identifier for a BackgroundOperation. An id
// present in the durable store is either pending or currently being
// processed; it is removed only after its callback returns success.
type OperationID uuid.UUID

// NewOperationID generates a fresh random id.
func NewOperationID() OperationID {
	return OperationID(uuid.New())
}

// String renders the id in canonical UUID form.
func (id OperationID) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON renders the id as its canonical UUID string rather than a
// raw byte array, matching how the durable store's records read back
// when inspected outside this package.
func (id OperationID) MarshalJSON() ([]byte, error) {
	return uuid.UUID(id).MarshalJSON()
}

// UnmarshalJSON parses a canonical UUID string into id.
func (id *OperationID) UnmarshalJSON(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalJSON(data)
}

// BackgroundOperation is the opaque record the VFS layer enqueues and the
// RBOP consumer later processes exactly once (subject to the idempotency
// requirement documented on Callbacks).
type BackgroundOperation struct {
	ID OperationID

	Kind OperationKind

	// Path is the primary working-tree path the operation concerns.
	Path string

	// SecondaryPath is set only for OpKindRename (the rename target).
	SecondaryPath string
}

// CallbackStatus is the tagged outcome of a callback invocation.
type CallbackStatus int

const (
	// Success advances the consumer to the next step.
	Success CallbackStatus = iota
	// RetryableError causes a backoff-then-retry of the same item
	// without dequeueing it.
	RetryableError
	// FatalError terminates the process.
	FatalError
)

func (s CallbackStatus) String() string {
	switch s {
	case Success:
		return "success"
	case RetryableError:
		return "retryable-error"
	case FatalError:
		return "fatal-error"
	default:
		return "unknown"
	}
}

// CallbackResult is what a Callbacks method returns.
type CallbackResult struct {
	Status CallbackStatus
	Err    error
}

// Ok is a convenience constructor for a successful result.
func Ok() CallbackResult { return CallbackResult{Status: Success} }

// Retryable wraps err as a retryable failure.
func Retryable(err error) CallbackResult { return CallbackResult{Status: RetryableError, Err: err} }

// Fatal wraps err as a fatal failure.
func Fatal(err error) CallbackResult { return CallbackResult{Status: FatalError, Err: err} }
