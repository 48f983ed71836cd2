package history

import "errors"

// Sentinel errors for history operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, history.ErrIdentityRequired) {
//	    // Handle a record or query without a speaker identity
//	}
var (
	// ErrIdentityRequired indicates a record or query was attempted
	// without a speaker identity.
	ErrIdentityRequired = errors.New("history: identity is required")

	// ErrRecorderRunning indicates Start was called on a recorder that
	// is already consuming registry events.
	ErrRecorderRunning = errors.New("history: recorder already running")
)
