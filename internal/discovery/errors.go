package discovery

import "errors"

// Sentinel errors for discovery operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, discovery.ErrBrowseFailed) {
//	    // Handle a failed browse cycle
//	}
var (
	// ErrBrowseFailed indicates an mDNS browse cycle could not be started.
	ErrBrowseFailed = errors.New("discovery: browse failed")

	// ErrNoAddress indicates a service announcement resolved without any
	// usable network address.
	ErrNoAddress = errors.New("discovery: announcement carries no address")
)
