package taxonomy

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrEmptyCatalog = errors.New("taxonomy catalog is empty")
	ErrDuplicateID  = errors.New("duplicate id in taxonomy catalog")
)
