package balance

import "errors"

var (
	// ErrInconsistency means the reported fields cannot form a valid
	// total/locked/free triple; the caller should re-fetch full state.
	ErrInconsistency = errors.New("balance inconsistency")

	errInsufficientFields = errors.New("balance update needs total plus locked or free")
)
