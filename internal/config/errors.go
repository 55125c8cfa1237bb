package config

import "fmt"

// ConfigurationError reports an invalid scenario, parameter or suite document.
// It is always surfaced before any tick runs.
type ConfigurationError struct {
	Source string // file path or document name
	Field  string // JSON pointer or field name, empty when the whole document is bad
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("configuration error in %s at %s: %s", e.Source, e.Field, e.Reason)
}

func invalid(source, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Source: source, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Invalid builds a ConfigurationError for callers outside this package.
func Invalid(source, field, format string, args ...any) error {
	return invalid(source, field, format, args...)
}
