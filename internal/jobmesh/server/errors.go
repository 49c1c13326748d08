package server

import (
	"fmt"

	"github.com/jobmesh/jobmesh/pkg/api"
)

// ErrPermissionDenied is returned synchronously by dispatch when a
// restricted method is invoked by an unprivileged or anonymous caller.
// Not retried.
type ErrPermissionDenied struct {
	Method api.JobMethod
}

func (err *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("method %q may only be dispatched by staff users", err.Method)
}

// ErrUnknownMethod indicates a method outside the known enumeration.
// A programming error, not retried.
type ErrUnknownMethod struct {
	Method api.JobMethod
}

func (err *ErrUnknownMethod) Error() string {
	return fmt.Sprintf("unknown job method %q", err.Method)
}

// ErrMissingStatus indicates a leaf job update without a status field.
type ErrMissingStatus struct {
	JobId string
}

func (err *ErrMissingStatus) Error() string {
	return fmt.Sprintf("update for job %s carries no status", err.JobId)
}
