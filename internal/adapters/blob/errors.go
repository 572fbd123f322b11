package blob

import "errors"

// Sentinel kinds for blob storage errors.
var (
	ErrNotFound = errors.New("blob not found")
	ErrEmptyKey = errors.New("empty blob key")
)
