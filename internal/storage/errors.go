// Package storage holds helpers shared by the share backends: typed
// configuration errors and parsing of string-keyed backend config maps.
package storage

import "fmt"

// ConfigError reports an invalid or unusable configuration value.
// Component names the backend or service the key belongs to.
type ConfigError struct {
	Component string
	Key       string
	Value     string
	Message   string
	Cause     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Key == "":
		return fmt.Sprintf("%s: %s", e.Component, e.Message)
	case e.Value == "":
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Key, e.Message)
	default:
		return fmt.Sprintf("%s: %s=%q: %s", e.Component, e.Key, e.Value, e.Message)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a ConfigError for a key.
func NewConfigError(component, key, message string) *ConfigError {
	return &ConfigError{Component: component, Key: key, Message: message}
}

// NewConfigErrorWithValue creates a ConfigError that records the rejected value.
func NewConfigErrorWithValue(component, key, value, message string) *ConfigError {
	return &ConfigError{Component: component, Key: key, Value: value, Message: message}
}

// NewConfigErrorWithCause creates a ConfigError wrapping cause.
func NewConfigErrorWithCause(component, key, message string, cause error) *ConfigError {
	return &ConfigError{Component: component, Key: key, Message: message, Cause: cause}
}
