package metadata

import (
	"errors"
	"fmt"
)

var ErrUnknownEntity = errors.New("unknown entity")

// ConfigurationError reports invalid metadata found at registration or seal
// time. The process must not serve with such a registry.
type ConfigurationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("entity %q: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("entity %q field %q: %s", e.Entity, e.Field, e.Reason)
}
