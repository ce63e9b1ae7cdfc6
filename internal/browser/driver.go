// Package browser defines the page-driving collaborator used by the pipelines and
// its implementations: a headless Chrome session and an HTTP-only static driver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/permit-collector/internal/locator"
)

// DefaultImplicitWait bounds how long Find waits for an element to appear.
const DefaultImplicitWait = 20 * time.Second

var (
	// ErrNotFound is matched by errors.Is for every element lookup that did not resolve.
	ErrNotFound = errors.New("element not found")
	// ErrUnsupported is returned when a driver cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by driver")
)

// Element is a handle to a resolved page element. Handle is owned by the driver
// that produced it.
type Element struct {
	Locator locator.Locator
	Handle  any
}

// Driver navigates and inspects a single live page. Implementations are not safe
// for concurrent use; one pipeline owns a driver for the duration of a run.
type Driver interface {
	// Navigate loads url, returning a *NavigationError on failure.
	Navigate(ctx context.Context, url string) error
	// Find resolves the first element matching l, waiting up to the implicit wait.
	// An unresolved lookup returns an error matching ErrNotFound.
	Find(ctx context.Context, l locator.Locator) (Element, error)
	// Count returns how many elements currently match l without waiting.
	Count(ctx context.Context, l locator.Locator) (int, error)
	Click(ctx context.Context, el Element) error
	// Attribute returns the named attribute, resolved to an absolute URL for links.
	Attribute(ctx context.Context, el Element, name string) (string, error)
	// Text returns the trimmed visible text; for a select, the chosen option's text.
	Text(ctx context.Context, el Element) (string, error)
	SetImplicitWait(d time.Duration)
	Close() error
}

// NotFoundError reports a locator that did not resolve within its wait bound.
type NotFoundError struct {
	Locator locator.Locator
	Wait    time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element not found after %s: %s", e.Wait, e.Locator)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NavigationError reports a page that could not be loaded.
type NavigationError struct {
	URL   string
	Cause error
}

func (e *NavigationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("navigation to %s failed", e.URL)
}

func (e *NavigationError) Unwrap() error {
	return e.Cause
}

// Error reports any other driver failure.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("driver %s failed: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err signals an unresolved element lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNavigation reports whether err is a navigation failure.
func IsNavigation(err error) bool {
	var navErr *NavigationError
	return errors.As(err, &navErr)
}
