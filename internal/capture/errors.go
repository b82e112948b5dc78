package capture

import "errors"

var (
	// ErrDeviceUnavailable means no descriptor in the priority list could be opened.
	ErrDeviceUnavailable = errors.New("camera unavailable")
	// ErrReadFailure is a transient read miss. It counts toward the failure threshold.
	ErrReadFailure = errors.New("frame read failed")
	// ErrEncodeFailure means a raw frame could not be turned into JPEG. The frame is skipped.
	ErrEncodeFailure = errors.New("frame encode failed")
	// ErrUnsupportedBackend is returned for descriptor kinds this build cannot open.
	ErrUnsupportedBackend = errors.New("backend not supported")
	// ErrInvalidDescriptor is returned when a source string cannot be parsed.
	ErrInvalidDescriptor = errors.New("invalid source descriptor")
	// ErrHandleClosed is returned by Read after Close.
	ErrHandleClosed = errors.New("handle closed")
)
