package store

import "errors"

// Sentinel kinds for record store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
	ErrNilRecord         = errors.New("nil record")
	ErrSnapshot          = errors.New("snapshot load failed")
)
