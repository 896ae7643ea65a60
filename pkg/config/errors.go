package config

import (
	"errors"
	"fmt"
)

// ErrConfigLoad wraps failures to locate or read a configuration file.
var ErrConfigLoad = errors.New("failed to load configuration")

// ErrConfigFormat wraps syntactically invalid configuration content.
var ErrConfigFormat = errors.New("invalid configuration format")

// AddressConflictError reports a listener address that collides with an
// address reserved by another component.
type AddressConflictError struct {
	// Addr is the configured address.
	Addr string
	// Reserved names the component holding the address.
	Reserved string
}

func (e *AddressConflictError) Error() string {
	return fmt.Sprintf("address %s conflicts with the reserved %s address; choose a different listen address", e.Addr, e.Reserved)
}
