package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// Kind classifies every error returned by a Session
type Kind uint8

const (
	KindInternal             Kind = iota // Unexpected failure, usually a bug
	KindInitialization                   // The backend could not be reached or set up
	KindStoreExists                      // A store with the requested name already exists
	KindInvalidStoreID                   // No store with the given id exists
	KindNotFound                         // The requested store, key or lock does not exist
	KindLockAcquisition                  // A lock could not be acquired before the deadline
	KindTimeout                          // The context expired while waiting
	KindWrite                            // A backend write failed
	KindRead                             // A backend read failed
	KindDelete                           // A backend delete failed
	KindCorruptStore                     // Store metadata or a dump is missing or inconsistent
	KindAllocation                       // No id available or a value exceeds the size limit
	KindUnsupportedOperation             // The backend cannot perform the operation
	KindIteratorMismatch                 // The iterator belongs to another store
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindInitialization:
		return "Initialization"
	case KindStoreExists:
		return "StoreExists"
	case KindInvalidStoreID:
		return "InvalidStoreID"
	case KindNotFound:
		return "NotFound"
	case KindLockAcquisition:
		return "LockAcquisition"
	case KindTimeout:
		return "Timeout"
	case KindWrite:
		return "Write"
	case KindRead:
		return "Read"
	case KindDelete:
		return "Delete"
	case KindCorruptStore:
		return "CorruptStore"
	case KindAllocation:
		return "Allocation"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindIteratorMismatch:
		return "IteratorMismatch"
	default:
		return "Unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type of every Session operation. Two errors are equal
// for errors.Is when their kinds match, so the sentinel values below can be
// used to test for a kind.
type Error struct {
	Kind       Kind
	Op         string // Operation that failed, e.g. "createStore"
	StoreID    uint64 // Store the operation targeted, 0 if none
	ExistingID uint64 // Id of the existing store for KindStoreExists
	Msg        string
	Err        error // Underlying cause, may be nil
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.StoreID != 0 {
		sb.WriteString(fmt.Sprintf(" (store %d)", e.StoreID))
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Sentinel values for errors.Is
var (
	ErrInternal             = &Error{Kind: KindInternal}
	ErrInitialization       = &Error{Kind: KindInitialization}
	ErrStoreExists          = &Error{Kind: KindStoreExists}
	ErrInvalidStoreID       = &Error{Kind: KindInvalidStoreID}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrLockAcquisition      = &Error{Kind: KindLockAcquisition}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrWrite                = &Error{Kind: KindWrite}
	ErrRead                 = &Error{Kind: KindRead}
	ErrDelete               = &Error{Kind: KindDelete}
	ErrCorruptStore         = &Error{Kind: KindCorruptStore}
	ErrAllocation           = &Error{Kind: KindAllocation}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrIteratorMismatch     = &Error{Kind: KindIteratorMismatch}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// KindOf returns the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ExistingStoreID returns the id carried by a KindStoreExists error
func ExistingStoreID(err error) (uint64, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStoreExists {
		return e.ExistingID, true
	}
	return 0, false
}

func newError(kind Kind, op string, id uint64, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		StoreID: id,
		Msg:     fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// passOrWrap keeps errors that already carry a kind and wraps everything else
func passOrWrap(kind Kind, op string, id uint64, err error, format string, args ...any) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(kind, op, id, err, format, args...)
}
