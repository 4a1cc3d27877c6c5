package chaindb

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a table, index or row does not exist.
	ErrNotFound = errors.New("chaindb: not found")
	// ErrDuplicateKey is returned when an insert or update collides with an
	// existing primary or unique secondary key.
	ErrDuplicateKey = errors.New("chaindb: duplicate key")
	// ErrCorruptState means the cache, journal or stored data is inconsistent;
	// the controller refuses further mutations once it has been returned.
	ErrCorruptState = errors.New("chaindb: corrupt state")
	// ErrDriverFailure wraps errors returned by the driver.
	ErrDriverFailure = errors.New("chaindb: driver failure")
)

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

func duplicateKey(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrDuplicateKey}, args...)...)
}

func corruptState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCorruptState}, args...)...)
}

// DriverError wraps err so that errors.Is(err, ErrDriverFailure) is true.
func DriverError(err error) error {
	if err == nil || errors.Is(err, ErrDriverFailure) || errors.Is(err, ErrCorruptState) ||
		errors.Is(err, ErrNotFound) {

		return err
	}
	return fmt.Errorf("%w: %s", ErrDriverFailure, err)
}
