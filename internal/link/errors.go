package link

import "errors"

var (
	// ErrLinkUnavailable means no serial link is open. The command was not written.
	ErrLinkUnavailable = errors.New("link unavailable")

	// ErrMalformedCommand means the payload is not a JSON document.
	ErrMalformedCommand = errors.New("malformed command")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("link closed")
)
