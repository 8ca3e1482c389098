package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the
// store, or when an update matched no rows.
var ErrNotFound = errors.New("not found")
