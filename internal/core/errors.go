package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a package or version is not known to the
// metadata source.
var ErrNotFound = errors.New("not found")

// NotFoundError wraps ErrNotFound with the package it concerns.
type NotFoundError struct {
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("package %s version %s not found", e.Name, e.Version)
	}
	return fmt.Sprintf("package %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
