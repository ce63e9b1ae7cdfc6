// Package fetch provides the HTTP side of the pipelines: plain GETs for download
// links and parsed documents for the static driver.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/ratelimit"
	"github.com/jonathan/permit-collector/internal/retry"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PermitAgent/1.0)"

// Result holds the raw content of a URL fetch.
type Result struct {
	URL         string
	FinalURL    string
	Body        []byte
	ContentType string
	StatusCode  int
}

// HTML returns the body as a string.
func (r *Result) HTML() string {
	return string(r.Body)
}

// Error represents an error during URL fetching.
type Error struct {
	URL        string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the request may succeed.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Cause != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	Retry     retry.Policy
	// Throttle spaces requests to the same host. The zero value disables it.
	Throttle ratelimit.Config
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		Retry:     retry.Once,
	}
}

// Client issues GET requests.
type Client struct {
	http     *resty.Client
	opts     *Options
	throttle *ratelimit.Limiter
}

// NewClient creates a client; nil options use DefaultOptions.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeaders(opts.Headers)

	return &Client{http: rc, opts: opts, throttle: ratelimit.NewLimiter(opts.Throttle)}
}

// Get retrieves the body behind urlStr.
func (c *Client) Get(ctx context.Context, urlStr string) ([]byte, error) {
	result, err := c.Fetch(ctx, urlStr)
	if err != nil {
		return nil, err
	}
	return result.Body, nil
}

// Fetch retrieves urlStr, retrying transient failures under the client's policy.
// On a non-2xx status the result is returned alongside the error.
func (c *Client) Fetch(ctx context.Context, urlStr string) (*Result, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &Error{
			URL:     urlStr,
			Message: "invalid URL",
			Cause:   err,
		}
	}

	var result *Result
	err = retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var fetchErr *Error
		result, fetchErr = c.once(ctx, urlStr)
		if fetchErr == nil {
			return nil
		}
		if !fetchErr.Retryable() {
			return retry.Permanent(fetchErr)
		}
		return fetchErr
	})
	return result, err
}

func (c *Client) once(ctx context.Context, urlStr string) (*Result, *Error) {
	waitStart := time.Now()
	if err := c.throttle.Wait(ctx, urlStr); err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "throttle wait interrupted",
			Cause:   err,
		}
	}
	observability.HTTPThrottleSeconds.Add(time.Since(waitStart).Seconds())

	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).Get(urlStr)
	observability.HTTPFetchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "HTTP request failed",
			Cause:   err,
		}
	}

	result := &Result{
		URL:         urlStr,
		FinalURL:    urlStr,
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
		StatusCode:  resp.StatusCode(),
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		result.FinalURL = resp.RawResponse.Request.URL.String()
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return result, &Error{
			URL:        urlStr,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode()),
			StatusCode: resp.StatusCode(),
		}
	}

	return result, nil
}

// Document fetches urlStr and parses the body as HTML.
func (c *Client) Document(ctx context.Context, urlStr string) (*goquery.Document, *Result, error) {
	result, err := c.Fetch(ctx, urlStr)
	if err != nil {
		return nil, result, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return nil, result, &Error{
			URL:     urlStr,
			Message: "failed to parse HTML",
			Cause:   err,
		}
	}
	if base, err := url.Parse(result.FinalURL); err == nil {
		doc.Url = base
	}
	return doc, result, nil
}
