package config

import (
	"errors"
	"fmt"
)

// ErrConfig marks fatal configuration problems. Never retried.
var ErrConfig = errors.New("configuration error")

// ConfigError names the missing or invalid variable.
type ConfigError struct {
	Var    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Var, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}
