// Package locator describes page elements as configurable structural expressions.
package locator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Strategy selects how an expression is interpreted by a driver.
type Strategy string

const (
	// XPath expressions are evaluated against the document tree
	XPath Strategy = "xpath"
	// CSS expressions are evaluated as selectors
	CSS Strategy = "css"
)

// Placeholder names understood by With.
const (
	Row    = "row"
	Option = "option"
	ID     = "id"
)

var placeholderRe = regexp.MustCompile(`\{[a-z]+\}`)

// Locator identifies one element (or a set of elements) on a page.
type Locator struct {
	Strategy Strategy `json:"strategy" validate:"omitempty,oneof=xpath css"`
	Expr     string   `json:"expr" validate:"required"`
}

// Error represents an unusable locator.
type Error struct {
	Locator Locator
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("locator error: %s: %q", e.Message, e.Locator.Expr)
}

// New returns a locator with the given strategy and expression.
func New(strategy Strategy, expr string) Locator {
	return Locator{Strategy: strategy, Expr: expr}
}

// XPathOf is shorthand for New(XPath, expr).
func XPathOf(expr string) Locator {
	return New(XPath, expr)
}

// CSSOf is shorthand for New(CSS, expr).
func CSSOf(expr string) Locator {
	return New(CSS, expr)
}

// Kind returns the effective strategy, defaulting to XPath.
func (l Locator) Kind() Strategy {
	if l.Strategy == "" {
		return XPath
	}
	return l.Strategy
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return strings.TrimSpace(l.Expr) == ""
}

// With substitutes {name} in the expression with value.
func (l Locator) With(name string, value any) Locator {
	var s string
	switch v := value.(type) {
	case int:
		s = strconv.Itoa(v)
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	l.Expr = strings.ReplaceAll(l.Expr, "{"+name+"}", s)
	return l
}

// Placeholders returns the placeholder names still present in the expression.
func (l Locator) Placeholders() []string {
	matches := placeholderRe.FindAllString(l.Expr, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.Trim(m, "{}"))
	}
	return names
}

// Validate checks that the locator can be handed to a driver.
func (l Locator) Validate() error {
	if l.IsZero() {
		return &Error{Locator: l, Message: "empty expression"}
	}
	switch l.Kind() {
	case XPath, CSS:
	default:
		return &Error{Locator: l, Message: fmt.Sprintf("unknown strategy %q", l.Strategy)}
	}
	if names := l.Placeholders(); len(names) > 0 {
		return &Error{Locator: l, Message: fmt.Sprintf("unresolved placeholders %v", names)}
	}
	return nil
}

// Parent returns a locator for the container of the matched elements: the
// XPath without its last step, or the CSS selector without its last compound.
// It returns the zero Locator when no container can be derived.
func (l Locator) Parent() Locator {
	expr := strings.TrimSpace(l.Expr)
	cut := -1
	depth := 0
	for i := len(expr) - 1; i >= 0 && cut < 0; i-- {
		switch expr[i] {
		case ']', ')':
			depth++
		case '[', '(':
			depth--
		case '/':
			if depth == 0 && l.Kind() == XPath {
				cut = i
			}
		case ' ', '>':
			if depth == 0 && l.Kind() == CSS {
				cut = i
			}
		}
	}
	if cut <= 0 {
		return Locator{}
	}
	parent := strings.TrimRight(expr[:cut], " >/")
	if parent == "" {
		return Locator{}
	}
	return Locator{Strategy: l.Strategy, Expr: parent}
}

// Unindexed removes the positional {name} predicate so the locator matches
// every position: "[{name}]" in XPath, ":nth-of-type({name})" or
// ":nth-child({name})" in CSS. It returns the zero Locator when the
// expression has no such predicate.
func (l Locator) Unindexed(name string) Locator {
	ph := "{" + name + "}"
	var forms []string
	if l.Kind() == XPath {
		forms = []string{"[" + ph + "]"}
	} else {
		forms = []string{":nth-of-type(" + ph + ")", ":nth-child(" + ph + ")"}
	}
	for _, form := range forms {
		if strings.Contains(l.Expr, form) {
			return Locator{Strategy: l.Strategy, Expr: strings.ReplaceAll(l.Expr, form, "")}
		}
	}
	return Locator{}
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%s", l.Kind(), l.Expr)
}

// Template is a URL containing an {id} placeholder.
type Template string

// Render substitutes id into the template.
func (t Template) Render(id string) string {
	return strings.ReplaceAll(string(t), "{"+ID+"}", id)
}

// Valid reports whether the template contains the {id} placeholder.
func (t Template) Valid() bool {
	return strings.Contains(string(t), "{"+ID+"}")
}
