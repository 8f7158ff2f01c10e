package perm

import "errors"

var (
	ErrNotFound          = errors.New("perm: not found")
	ErrAlreadyExists     = errors.New("perm: already exists")
	ErrUnknownPermission = errors.New("perm: unknown permission")
	ErrInvalidInput      = errors.New("perm: invalid input")
)
