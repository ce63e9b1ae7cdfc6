// Package collector enumerates document links across the year pages of a
// paginated listing, one year selector option at a time.
package collector

import "fmt"

// ConfigError represents an unusable collector configuration
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("collector config error: %s: %s", e.Field, e.Message)
}

// YearError represents a year selector whose text holds no year
type YearError struct {
	Text  string
	Cause error
}

func (e *YearError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot read active year: %v", e.Cause)
	}
	return fmt.Sprintf("cannot read active year from %q", e.Text)
}

func (e *YearError) Unwrap() error {
	return e.Cause
}

// DesyncError represents a year page that did not change after the selector was advanced.
// Links read from such a page would be attributed to the wrong year.
type DesyncError struct {
	PageIndex int
	Option    int
	Cause     error
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("year page %d did not settle after selecting option %d: %v", e.PageIndex+1, e.Option, e.Cause)
}

func (e *DesyncError) Unwrap() error {
	return e.Cause
}
