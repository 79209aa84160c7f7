// Package domain contains the entities the planner reasons about and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when resources are not available.
	ErrResourceExhausted = errors.New("resources exhausted")

	// ErrOperationFailed is returned when an operation fails.
	ErrOperationFailed = errors.New("operation failed")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// Planning errors. They abort the construction of a reconfiguration problem.
var (
	// ErrUnknownVM is returned when a VM is not part of the model.
	ErrUnknownVM = errors.New("unknown virtual machine")

	// ErrUnknownNode is returned when a node is not part of the model.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoTransition is returned when no action moves a subject from its current state
	// to the requested one.
	ErrNoTransition = errors.New("no transition between states")

	// ErrAmbiguousState is returned when a VM is missing from the target states or
	// appears in more than one.
	ErrAmbiguousState = errors.New("ambiguous next state")

	// ErrMissingAttribute is returned when an action needs an attribute the subject lacks.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrInvalidConstraint is returned when a placement constraint is malformed.
	ErrInvalidConstraint = errors.New("invalid constraint")
)
