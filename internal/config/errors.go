package config

import (
	"errors"
	"fmt"
)

// Error is a fatal configuration problem: missing credentials or an
// unresolvable reference. It is never retried and has no fallback.
type Error struct {
	Field   string
	Problem string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Problem)
}

// IsConfigError reports whether err is or wraps a configuration Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
