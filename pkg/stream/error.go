package stream

import "errors"

var (
	errAlreadyStarted = errors.New("supervisor already started")
	errNoHandler      = errors.New("no message handler registered")
	errNotStarted     = errors.New("supervisor not started")
	errNotConnected   = errors.New("stream not connected")
)
