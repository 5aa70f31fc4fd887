package types

import "errors"

var (
	// ErrSourceUnavailable means the video origin could not be opened or stopped answering.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDecodeFailure means a grabbed frame could not be decoded.
	ErrDecodeFailure = errors.New("frame decode failed")
	// ErrConfigRejected means a live configuration update named an unknown key or had the wrong type.
	ErrConfigRejected = errors.New("config rejected")
	// ErrPersistence means the event store could not write an event.
	ErrPersistence = errors.New("event persistence failed")
	// ErrClipWrite means a clip could not be written to disk.
	ErrClipWrite = errors.New("clip write failed")
)
