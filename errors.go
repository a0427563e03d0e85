package abac

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is the uniform refusal surfaced to callers for both
// DENY and NOT_APPLICABLE outcomes. Its text never varies with the policy
// or attribute that caused the refusal; the detail lives only in the
// audit trail.
var ErrAccessDenied = errors.New("access denied")

// PolicyLoadError reports one malformed policy document. The load skips
// the document and continues.
type PolicyLoadError struct {
	Path   string
	Reason error
}

func (e *PolicyLoadError) Error() string {
	return fmt.Sprintf("load policy %s: %v", e.Path, e.Reason)
}

func (e *PolicyLoadError) Unwrap() error { return e.Reason }

// StoreReloadError means a reload produced no usable snapshot; the
// previous snapshot remains active.
type StoreReloadError struct {
	Dir    string
	Reason error
}

func (e *StoreReloadError) Error() string {
	return fmt.Sprintf("reload %s aborted: %v", e.Dir, e.Reason)
}

func (e *StoreReloadError) Unwrap() error { return e.Reason }

// OperationError wraps a document store failure that happened after a
// permit. It is distinct from an access denial.
type OperationError struct {
	Kind       OperationKind
	Collection string
	Err        error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Collection, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
