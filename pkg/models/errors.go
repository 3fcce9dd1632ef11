package models

import "fmt"

// Entity kinds referenced by price submissions.
const (
	KindProduct = "product"
	KindMarket  = "market"
	KindVendor  = "vendor"
	KindUser    = "user"
)

// ValidationError rejects a malformed command before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EntityNotFoundError rejects a submission whose referenced entity is absent
// from the store. Kind names the first missing entity found.
type EntityNotFoundError struct {
	Kind string
	ID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// PersistenceError wraps a failed store round-trip. Reported to the
// initiating session only; no broadcast happens on a failed write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InternalError wraps an unexpected fault in aggregation or fan-out. Scoped
// to the requesting session; never terminates the hub.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
