package speaker

import "errors"

// Sentinel errors for registry operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, speaker.ErrUnknownSpeaker) {
//	    // Handle a command for an identity the registry does not hold
//	}
var (
	// ErrUnknownSpeaker indicates no registry entry exists for the
	// requested identity.
	ErrUnknownSpeaker = errors.New("speaker: unknown speaker")

	// ErrRegistryClosed indicates the registry has been stopped.
	ErrRegistryClosed = errors.New("speaker: registry closed")
)
