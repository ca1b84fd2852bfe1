package id

import "github.com/google/uuid"

// New returns a random (version 4) identifier for images and tasks.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is an identifier produced by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
