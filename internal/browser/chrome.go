package browser

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/jonathan/permit-collector/internal/locator"
	"github.com/jonathan/permit-collector/internal/observability"
)

// DefaultNavigationTimeout bounds a single page load.
const DefaultNavigationTimeout = 60 * time.Second

// clickJS selects an <option> (firing change on its <select>) or clicks anything else.
const clickJS = `function() {
	if (this.tagName === "OPTION" && this.parentElement) {
		const sel = this.closest("select") || this.parentElement;
		sel.value = this.value;
		this.selected = true;
		sel.dispatchEvent(new Event("input", { bubbles: true }));
		sel.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	}
	this.click();
	return true;
}`

const attributeJS = `function(name) {
	const v = this[name];
	if (typeof v === "string") { return v; }
	const a = this.getAttribute(name);
	return a === null ? "" : a;
}`

const textJS = `function() {
	if (this.tagName === "SELECT") {
		const o = this.options[this.selectedIndex];
		return o ? o.text.trim() : "";
	}
	return (this.innerText || this.textContent || "").trim();
}`

// ChromeOptions configures a headless Chrome session.
type ChromeOptions struct {
	Headless          bool
	UserAgent         string
	ImplicitWait      time.Duration
	NavigationTimeout time.Duration
	Logger            *slog.Logger
}

// Chrome drives one Chrome tab through the DevTools protocol.
// Requires Chrome/Chromium to be installed on the system.
type Chrome struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	wait        time.Duration
	navTimeout  time.Duration
	log         *slog.Logger
}

// NewChrome starts a browser and opens a tab. The session lives until Close.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	logger := observability.OrDiscard(opts.Logger)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", format, "args", args)
		}),
	)

	// Start the browser without a deadline; a timed-out first Run would kill it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, &Error{Op: "start", Cause: err}
	}

	wait := opts.ImplicitWait
	if wait <= 0 {
		wait = DefaultImplicitWait
	}
	navTimeout := opts.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = DefaultNavigationTimeout
	}

	logger.Debug("browser started", "headless", opts.Headless)
	return &Chrome{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		wait:        wait,
		navTimeout:  navTimeout,
		log:         logger,
	}, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func queryOption(l locator.Locator) chromedp.QueryOption {
	if l.Kind() == locator.CSS {
		return chromedp.ByQueryAll
	}
	return chromedp.BySearch
}

// Navigate loads url in the tab.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.log.Debug("navigate", "url", url)
	if err := c.run(ctx, c.navTimeout, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NavigationError{URL: url, Cause: err}
	}
	return nil
}

// Find waits up to the implicit wait for l to match.
func (c *Chrome) Find(ctx context.Context, l locator.Locator) (Element, error) {
	if err := l.Validate(); err != nil {
		return Element{}, err
	}

	var nodes []*cdp.Node
	err := c.run(ctx, c.wait, chromedp.Nodes(l.Expr, &nodes, queryOption(l)))
	if err != nil {
		if ctx.Err() != nil {
			return Element{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Element{}, &NotFoundError{Locator: l, Wait: c.wait}
		}
		return Element{}, &Error{Op: "find", Cause: err}
	}
	if len(nodes) == 0 {
		return Element{}, &NotFoundError{Locator: l, Wait: c.wait}
	}
	return Element{Locator: l, Handle: nodes[0]}, nil
}

// Count returns the number of current matches without waiting for any.
func (c *Chrome) Count(ctx context.Context, l locator.Locator) (int, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}

	var nodes []*cdp.Node
	err := c.run(ctx, c.wait, chromedp.Nodes(l.Expr, &nodes, queryOption(l), chromedp.AtLeast(0)))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &Error{Op: "count", Cause: err}
	}
	return len(nodes), nil
}

func (c *Chrome) node(el Element) (*cdp.Node, error) {
	node, ok := el.Handle.(*cdp.Node)
	if !ok || node == nil {
		return nil, &Error{Op: "resolve", Cause: errors.New("element was not produced by this driver")}
	}
	return node, nil
}

func (c *Chrome) callOnNode(ctx context.Context, op string, el Element, fn string, res any, args ...any) error {
	node, err := c.node(el)
	if err != nil {
		return err
	}
	err = c.run(ctx, c.wait, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		return chromedp.CallFunctionOn(fn, res,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
			args...,
		).Do(ctx)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Op: op, Cause: err}
	}
	return nil
}

// Click clicks el, or selects it when it is a select option.
func (c *Chrome) Click(ctx context.Context, el Element) error {
	var ok bool
	return c.callOnNode(ctx, "click", el, clickJS, &ok)
}

// Attribute returns the DOM property name when it is a string, else the attribute.
func (c *Chrome) Attribute(ctx context.Context, el Element, name string) (string, error) {
	var value string
	if err := c.callOnNode(ctx, "attribute", el, attributeJS, &value, name); err != nil {
		return "", err
	}
	return value, nil
}

// Text returns the element's trimmed text.
func (c *Chrome) Text(ctx context.Context, el Element) (string, error) {
	var value string
	if err := c.callOnNode(ctx, "text", el, textJS, &value); err != nil {
		return "", err
	}
	return value, nil
}

// SetImplicitWait changes how long Find waits.
func (c *Chrome) SetImplicitWait(d time.Duration) {
	if d > 0 {
		c.wait = d
	}
}

// Close closes the tab and the browser.
func (c *Chrome) Close() error {
	c.cancelTab()
	c.cancelAlloc()
	return nil
}
