// Package browsertest provides a scripted in-memory browser.Driver for pipeline tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/permit-collector/internal/browser"
	"github.com/jonathan/permit-collector/internal/locator"
)

// Node is one element of a scripted page.
type Node struct {
	Attrs map[string]string
	Text  string
	// OnClick runs when the node is clicked; typically it calls Driver.Show.
	OnClick func(d *Driver) error
}

// Link returns a node carrying an href.
func Link(href string) *Node {
	return &Node{Attrs: map[string]string{"href": href}}
}

// Page maps locator expressions to elements and match counts.
type Page struct {
	Elements map[string]*Node
	Counts   map[string]int

	next  *Page
	after int
	reads int
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{Elements: make(map[string]*Node), Counts: make(map[string]int)}
}

// Set registers node under expr.
func (p *Page) Set(expr string, node *Node) *Page {
	p.Elements[expr] = node
	return p
}

// SetCount registers the number of matches Count reports for expr.
func (p *Page) SetCount(expr string, n int) *Page {
	p.Counts[expr] = n
	return p
}

// Becomes replaces p with next on the live driver once p has served after
// Find or Count calls, as a page updated by a script would.
func (p *Page) Becomes(after int, next *Page) *Page {
	p.next = next
	p.after = after
	return p
}

// Driver is a scripted browser.Driver. It records every call it serves.
type Driver struct {
	Pages        map[string]*Page
	NavigateErrs map[string]error

	Navigations []string
	Lookups     []string
	Counted     []string
	Clicks      []string
	Wait        time.Duration
	Closed      bool

	current *Page
}

var _ browser.Driver = (*Driver)(nil)

// New returns a driver with no pages.
func New() *Driver {
	return &Driver{
		Pages:        make(map[string]*Page),
		NavigateErrs: make(map[string]error),
	}
}

// AddPage makes url navigable.
func (d *Driver) AddPage(url string, p *Page) *Driver {
	d.Pages[url] = p
	return d
}

// Show replaces the live page without a navigation, as a script-driven update would.
func (d *Driver) Show(p *Page) {
	d.current = p
}

// Current returns the live page.
func (d *Driver) Current() *Page {
	return d.current
}

// Navigate loads a registered page.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Navigations = append(d.Navigations, url)
	if err, ok := d.NavigateErrs[url]; ok {
		return &browser.NavigationError{URL: url, Cause: err}
	}
	p, ok := d.Pages[url]
	if !ok {
		return &browser.NavigationError{URL: url, Cause: errors.New("404 page not found")}
	}
	d.current = p
	return nil
}

// Find resolves expr on the live page.
func (d *Driver) Find(ctx context.Context, l locator.Locator) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return browser.Element{}, err
	}
	if err := l.Validate(); err != nil {
		return browser.Element{}, err
	}
	d.Lookups = append(d.Lookups, l.Expr)
	defer d.served()
	if d.current == nil {
		return browser.Element{}, &browser.NotFoundError{Locator: l, Wait: d.Wait}
	}
	node, ok := d.current.Elements[l.Expr]
	if !ok || node == nil {
		return browser.Element{}, &browser.NotFoundError{Locator: l, Wait: d.Wait}
	}
	return browser.Element{Locator: l, Handle: node}, nil
}

// Count reports the scripted count for expr.
func (d *Driver) Count(ctx context.Context, l locator.Locator) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := l.Validate(); err != nil {
		return 0, err
	}
	d.Counted = append(d.Counted, l.Expr)
	defer d.served()
	if d.current == nil {
		return 0, nil
	}
	return d.current.Counts[l.Expr], nil
}

func (d *Driver) served() {
	p := d.current
	if p == nil || p.next == nil {
		return
	}
	p.reads++
	if p.reads >= p.after {
		d.current = p.next
	}
}

func node(el browser.Element) (*Node, error) {
	n, ok := el.Handle.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("browsertest: foreign element %v", el.Locator)
	}
	return n, nil
}

// Click runs the node's OnClick.
func (d *Driver) Click(ctx context.Context, el browser.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := node(el)
	if err != nil {
		return err
	}
	d.Clicks = append(d.Clicks, el.Locator.Expr)
	if n.OnClick == nil {
		return nil
	}
	return n.OnClick(d)
}

// Attribute returns the scripted attribute value.
func (d *Driver) Attribute(_ context.Context, el browser.Element, name string) (string, error) {
	n, err := node(el)
	if err != nil {
		return "", err
	}
	return n.Attrs[name], nil
}

// Text returns the scripted text.
func (d *Driver) Text(_ context.Context, el browser.Element) (string, error) {
	n, err := node(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

// SetImplicitWait records d.
func (d *Driver) SetImplicitWait(wait time.Duration) {
	d.Wait = wait
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.Closed = true
	return nil
}
