/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package core holds the per-event pipeline of substream: the Dispatcher that runs
each certificate name through decomposition, noise classification and the ledger,
and the label-sharded Scheduler that lets that work run on several cores while
keeping every label on a single goroutine.
*/
package core

import "errors"

// customError is an error type that includes a retryable flag.
// This allows components to determine if an operation that resulted in this error
// should be retried.
type customError struct {
	message   string // The error message.
	retryable bool   // True if the error indicates a condition that might be resolved by retrying.
}

// NewError creates a new customError with the given message and retryable status.
func NewError(msg string, retryable bool) error {
	return &customError{
		message:   msg,
		retryable: retryable,
	}
}

// Error implements the standard Go `error` interface.
func (e *customError) Error() string {
	return e.message
}

// IsRetryable returns true if the error is designated as retryable, false otherwise.
func (e *customError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err, or any error it wraps, is a retryable *customError.
// Unknown error types are treated as non-retryable.
func IsRetryable(err error) bool {
	var ce *customError
	if errors.As(err, &ce) {
		return ce.IsRetryable()
	}
	return false
}

// Common error constants used within the core package.
var (
	// ErrQueueFull indicates that a worker's queue is at capacity and cannot accept new work items.
	// Returned by TrySubmit only; it is retryable, the queue might free up later.
	ErrQueueFull = NewError("queue full", true)
	// ErrWorkerShutdown indicates that the scheduler is draining or stopped and no longer accepts work.
	ErrWorkerShutdown = NewError("worker shutdown", false)
	// ErrNilCollaborator is returned by NewDispatcher when a required dependency is missing.
	ErrNilCollaborator = NewError("dispatcher dependency is nil", false)
)
