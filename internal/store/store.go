// Package store holds what every persistence backend shares.
package store

import "errors"

// ErrUnavailable reports that the underlying persistence could not be reached.
// Backends wrap it; callers match it with errors.Is and decide whether to retry.
var ErrUnavailable = errors.New("store: unavailable")
