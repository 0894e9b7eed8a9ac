package transit

import (
	"errors"
	"fmt"
)

// ErrInvalidCatalog is wrapped by every ConfigError.
var ErrInvalidCatalog = errors.New("invalid catalog")

// ConfigError reports a malformed or inconsistent catalog. It is not retriable.
type ConfigError struct {
	Kind   string // route, stop, vehicle or ticket
	ID     string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidCatalog, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %q: %s", ErrInvalidCatalog, e.Kind, e.ID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidCatalog }
