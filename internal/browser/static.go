package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/permit-collector/internal/fetch"
	"github.com/jonathan/permit-collector/internal/locator"
)

// Static is a Driver over server-rendered HTML fetched with plain GETs. It
// understands CSS locators only and can follow links but not run scripts.
type Static struct {
	client *fetch.Client
	doc    *goquery.Document
	url    string
	wait   time.Duration
}

// NewStatic creates a static driver; a nil client uses default fetch options.
func NewStatic(client *fetch.Client) *Static {
	if client == nil {
		client = fetch.NewClient(nil)
	}
	return &Static{client: client}
}

// URL returns the address of the loaded page.
func (s *Static) URL() string {
	return s.url
}

// Navigate fetches and parses url.
func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	doc, _, err := s.client.Document(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NavigationError{URL: rawURL, Cause: err}
	}
	s.doc = doc
	s.url = rawURL
	return nil
}

func (s *Static) selection(l locator.Locator) (*goquery.Selection, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Kind() != locator.CSS {
		return nil, fmt.Errorf("%w: %s locators", ErrUnsupported, l.Kind())
	}
	if s.doc == nil {
		return nil, &Error{Op: "find", Cause: errors.New("no page loaded")}
	}
	return s.doc.Find(l.Expr), nil
}

// Find returns the first match. Static pages do not change, so there is no wait.
func (s *Static) Find(_ context.Context, l locator.Locator) (Element, error) {
	sel, err := s.selection(l)
	if err != nil {
		return Element{}, err
	}
	if sel.Length() == 0 {
		return Element{}, &NotFoundError{Locator: l}
	}
	return Element{Locator: l, Handle: sel.First()}, nil
}

// Count returns the number of matches.
func (s *Static) Count(_ context.Context, l locator.Locator) (int, error) {
	sel, err := s.selection(l)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

func (s *Static) handle(el Element) (*goquery.Selection, error) {
	sel, ok := el.Handle.(*goquery.Selection)
	if !ok || sel == nil {
		return nil, &Error{Op: "resolve", Cause: errors.New("element was not produced by this driver")}
	}
	return sel, nil
}

// Click follows an anchor's href. Any other element is unsupported.
func (s *Static) Click(ctx context.Context, el Element) error {
	if _, err := s.handle(el); err != nil {
		return err
	}
	href, err := s.Attribute(ctx, el, "href")
	if err != nil {
		return err
	}
	if href == "" {
		return fmt.Errorf("%w: click on element without href", ErrUnsupported)
	}
	return s.Navigate(ctx, href)
}

// Attribute returns the named attribute; href and src are resolved against the page URL.
func (s *Static) Attribute(_ context.Context, el Element, name string) (string, error) {
	sel, err := s.handle(el)
	if err != nil {
		return "", err
	}
	value, ok := sel.Attr(name)
	if !ok {
		return "", nil
	}
	if name == "href" || name == "src" {
		return s.resolve(value), nil
	}
	return value, nil
}

func (s *Static) resolve(ref string) string {
	if s.doc == nil || s.doc.Url == nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return s.doc.Url.ResolveReference(u).String()
}

// Text returns the trimmed text; for a select, the selected option's text.
func (s *Static) Text(_ context.Context, el Element) (string, error) {
	sel, err := s.handle(el)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(sel) == "select" {
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		return strings.TrimSpace(opt.Text()), nil
	}
	return strings.TrimSpace(sel.Text()), nil
}

// SetImplicitWait is recorded but has no effect on static pages.
func (s *Static) SetImplicitWait(d time.Duration) {
	s.wait = d
}

// Close releases the loaded document.
func (s *Static) Close() error {
	s.doc = nil
	return nil
}
