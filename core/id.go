package core

import "github.com/google/uuid"

// NewID returns a random identifier for rooms, messages, turns and tool runs.
func NewID() string { return uuid.NewString() }
