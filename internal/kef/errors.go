package kef

import "errors"

// Codec errors. These are decode-time signals and are never retryable.
var (
	// ErrMalformedPayload is returned when a response body is not valid JSON.
	ErrMalformedPayload = errors.New("kef: malformed payload")

	// ErrUnexpectedShape is returned when a payload parses but its type tag
	// or structure does not match the expected property.
	ErrUnexpectedShape = errors.New("kef: unexpected payload shape")
)

// Transport errors. Retry policy lives in the Session, not the transport.
var (
	// ErrConnectFailed is returned when a connection cannot be established.
	ErrConnectFailed = errors.New("kef: connect failed")

	// ErrTimeout is returned when an exchange exceeds its deadline. On the
	// long-poll path this is the device's normal "no change" outcome.
	ErrTimeout = errors.New("kef: request timed out")

	// ErrHTTPStatus is returned when the device answers with a non-2xx status.
	ErrHTTPStatus = errors.New("kef: unexpected HTTP status")

	// ErrConnectionReset is returned when the device drops an established
	// connection mid-exchange.
	ErrConnectionReset = errors.New("kef: connection reset")
)

// Session errors.
var (
	// ErrSessionClosed is returned when a command is issued against a
	// session that has been stopped.
	ErrSessionClosed = errors.New("kef: session closed")

	// ErrInvalidCommand is returned when a command fails validation before
	// reaching the device.
	ErrInvalidCommand = errors.New("kef: invalid command")
)
