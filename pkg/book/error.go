package book

import "errors"

// ErrGapDetected means a diff arrived out of sequence; the book is unsynced
// until the caller feeds a fresh snapshot.
var ErrGapDetected = errors.New("book sequence gap detected")
