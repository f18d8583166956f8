// Package syncerr is the typed-error hierarchy surfaced by a sync run:
// DriverError, TypeMismatch, MetadataMismatch, Cancelled and
// PolicyFailure. Callers distinguish these with errors.As instead of
// matching on message text.
package syncerr

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// DriverError wraps any SQL-level failure: connection, prepare, execute
// or bind. Code carries the MySQL error number when the driver exposes
// one (0 otherwise).
type DriverError struct {
	Op   string
	Code int
	Err  error
}

func (e *DriverError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("driver error during %s (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("driver error during %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError wraps err as a *DriverError for operation op. Returns
// nil if err is nil, so call sites can use it unconditionally in place
// of fmt.Errorf around a driver call.
func NewDriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	code := 0
	if me, ok := err.(*mysql.MySQLError); ok {
		code = int(me.Number)
	}
	return &DriverError{Op: op, Code: code, Err: err}
}

// TypeMismatch reports a Field comparison that returned Unordered: the
// two sides being compared do not share a type tag.
type TypeMismatch struct {
	Context string
	Err     error
}

func (e *TypeMismatch) Error() string { return fmt.Sprintf("type mismatch in %s: %v", e.Context, e.Err) }
func (e *TypeMismatch) Unwrap() error { return e.Err }

// MetadataMismatch reports a column-count or per-column descriptor
// divergence between source and target, detected at the check phase
// before any mutation runs.
type MetadataMismatch struct {
	Table string
	Err   error
}

func (e *MetadataMismatch) Error() string {
	return fmt.Sprintf("metadata mismatch on %s: %v", e.Table, e.Err)
}
func (e *MetadataMismatch) Unwrap() error { return e.Err }

// Cancelled reports that the global stop flag transitioned to false
// mid-run. It is not a failure of the operation it interrupts; treat it
// as a distinct terminal status rather than an error to retry.
type Cancelled struct {
	Table string
	Err   error
}

func (e *Cancelled) Error() string { return fmt.Sprintf("%s: cancelled: %v", e.Table, e.Err) }
func (e *Cancelled) Unwrap() error { return e.Err }

// PolicyFailure reports that a mutation failed with noFail=false: the
// table aborts and the global stop flag is set.
type PolicyFailure struct {
	Table string
	Err   error
}

func (e *PolicyFailure) Error() string { return fmt.Sprintf("%s: policy failure: %v", e.Table, e.Err) }
func (e *PolicyFailure) Unwrap() error { return e.Err }
