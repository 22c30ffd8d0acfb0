package core

import "errors"

var (
	// ErrNotFound is returned by stores when a room, actor, message or marker does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness violation (duplicate id, handle or agent definition binding).
	ErrConflict = errors.New("conflict")
	// ErrInvalid signals a value that fails structural validation.
	ErrInvalid = errors.New("invalid")
)
