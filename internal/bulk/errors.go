// Package bulk fetches the CSV export linked from each project's detail page and
// merges the rows into one table.
package bulk

import (
	"fmt"

	"github.com/jonathan/permit-collector/internal/types"
)

// ConfigError represents an unusable bulk fetcher configuration
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bulk config error: %s: %s", e.Field, e.Message)
}

// ItemError represents the failure of one identifier at one step
type ItemError struct {
	Identifier types.ProjectIdentifier
	Kind       types.FailureKind
	Cause      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Identifier, e.Kind, e.Cause)
}

func (e *ItemError) Unwrap() error {
	return e.Cause
}

// Failure converts the error into the record surfaced to callers.
func (e *ItemError) Failure() types.ItemFailure {
	msg := ""
	if e.Cause != nil {
		msg = e.Cause.Error()
	}
	return types.ItemFailure{Item: string(e.Identifier), Kind: e.Kind, Message: msg}
}

// DecodeError represents a body that could not be decoded
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at byte %d: %s", e.Offset, e.Message)
}

// ParseError represents a body that decoded but is not a usable CSV document
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("csv parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("csv parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
