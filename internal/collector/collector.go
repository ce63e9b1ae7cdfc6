package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/jonathan/permit-collector/internal/browser"
	"github.com/jonathan/permit-collector/internal/locator"
	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/retry"
	"github.com/jonathan/permit-collector/internal/types"
)

// Reason explains why a run stopped.
type Reason string

const (
	// ReasonMaxPages means the configured number of year pages was scanned
	ReasonMaxPages Reason = "max_pages_reached"
	// ReasonExhausted means the year selector had no further option
	ReasonExhausted Reason = Reason(types.KindExhaustedPagination)
	// ReasonSelectorNotFound means the year selector or its next option could
	// not be resolved; the failure is in Result.Failures
	ReasonSelectorNotFound Reason = "year_selector_not_found"
)

var yearRe = regexp.MustCompile(`\b(1[89]|2[0-9])[0-9]{2}\b`)

// Result is the outcome of a run. Documents are in page-then-row order.
type Result struct {
	Documents    []types.DocumentReference
	Failures     []types.ItemFailure
	Years        []int
	PagesVisited int
	Reason       Reason
}

// Page is what one pagination step produced.
type Page struct {
	Year      int
	Documents []types.DocumentReference
	Failures  []types.ItemFailure
	// Reason is set when this was the last page of the run.
	Reason Reason

	table tableSnapshot
}

// tableSnapshot identifies the rows a year page showed: the row count and the
// first link that was read.
type tableSnapshot struct {
	Rows int
	Row  int
	Href string
}

// pageReading is what the settle wait observes after a year option is selected.
type pageReading struct {
	Year  int
	Table tableSnapshot
}

// Collector walks the year pages of a listing through a browser.Driver.
type Collector struct {
	driver browser.Driver
	cfg    Config
	log    *slog.Logger
}

// New creates a collector. The driver must not be shared with another run.
func New(driver browser.Driver, cfg Config, logger *slog.Logger) (*Collector, error) {
	if driver == nil {
		return nil, &ConfigError{Field: "driver", Message: "required"}
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{driver: driver, cfg: cfg, log: observability.OrDiscard(logger)}, nil
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// Run loads the root page and scans up to MaxPages year pages. On error the
// documents gathered so far are returned with it.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	if c.cfg.MaxPages == 0 {
		result.Reason = ReasonMaxPages
		return result, nil
	}

	if c.cfg.Wait > 0 {
		c.driver.SetImplicitWait(c.cfg.Wait)
	}

	c.log.Info("loading listing", "url", c.cfg.RootURL, "max_pages", c.cfg.MaxPages)
	if err := c.driver.Navigate(ctx, c.cfg.RootURL); err != nil {
		return result, fmt.Errorf("failed to load listing: %w", err)
	}

	state := types.NewPaginationState()
	for {
		next, page, err := c.Step(ctx, state)
		if page != nil {
			result.Documents = append(result.Documents, page.Documents...)
			result.Failures = append(result.Failures, page.Failures...)
			result.Years = append(result.Years, page.Year)
			result.PagesVisited++
		}
		if err != nil {
			return result, err
		}
		if page.Reason != "" {
			result.Reason = page.Reason
			break
		}
		state = next
	}

	c.log.Info("collection finished",
		"documents", len(result.Documents),
		"pages", result.PagesVisited,
		"failures", len(result.Failures),
		"reason", result.Reason)
	return result, nil
}

// Step scans the live year page and, unless it is the last one, advances the
// selector to the next year. It returns the state for the next step. A nil Page
// means the current page could not be scanned.
func (c *Collector) Step(ctx context.Context, state types.PaginationState) (types.PaginationState, *Page, error) {
	year, err := c.activeYear(ctx, state.PageIndex)
	if err != nil {
		return state, nil, err
	}
	if state.Visited(year) {
		return state, nil, &DesyncError{
			PageIndex: state.PageIndex,
			Option:    c.cfg.FirstOption + state.PageIndex - 1,
			Cause:     fmt.Errorf("year %d was already scanned", year),
		}
	}

	page, cursor, err := c.scanPage(ctx, year)
	if err != nil {
		return state, nil, err
	}
	state = state.WithYear(year)
	state.RowCursor = cursor

	observability.PagesVisited.Inc()
	observability.DocumentsCollected.Add(float64(len(page.Documents)))
	c.log.Debug("scanned year page",
		"page", state.PageIndex+1,
		"year", year,
		"documents", len(page.Documents),
		"failures", len(page.Failures))

	if state.PageIndex+1 >= c.cfg.MaxPages {
		page.Reason = ReasonMaxPages
		return state, page, nil
	}

	next, err := c.advance(ctx, state, page)
	if err != nil {
		return state, page, err
	}
	if page.Reason != "" {
		return state, page, nil
	}
	return next, page, nil
}

// elementNotFound records a structural lookup failure on page.
func (c *Collector) elementNotFound(page *Page, item string, err error) {
	failure := types.ItemFailure{
		Item:    item,
		Kind:    types.KindElementNotFound,
		Message: err.Error(),
	}
	page.Failures = append(page.Failures, failure)
	observability.ItemFailures.WithLabelValues(observability.PipelineCollect, string(failure.Kind)).Inc()
}

// scanPage reads every RowStride-th row position present on the page. A page
// whose rows container is missing yields a failure; a container without rows
// is an empty year.
func (c *Collector) scanPage(ctx context.Context, year int) (*Page, int, error) {
	page := &Page{Year: year}

	if _, err := c.driver.Find(ctx, c.cfg.Locators.RowsContainer); err != nil {
		if !browser.IsNotFound(err) {
			return nil, 0, fmt.Errorf("failed to find rows for year %d: %w", year, err)
		}
		c.elementNotFound(page, fmt.Sprintf("year %d rows", year), err)
		c.log.Warn("rows container missing", "year", year, "error", err)
		return page, 0, nil
	}
	rows, err := c.driver.Count(ctx, c.cfg.Locators.Rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rows for year %d: %w", year, err)
	}
	page.table.Rows = rows

	cursor := 0
	for row := c.cfg.RowStart; row <= c.cfg.RowEnd && row <= rows; row += c.cfg.RowStride {
		cursor = row
		href, err := c.rowLink(ctx, row)
		if err != nil {
			if !browser.IsNotFound(err) {
				return nil, cursor, fmt.Errorf("failed to read row %d for year %d: %w", row, year, err)
			}
			// The row exists but its link does not: the layout no longer matches.
			c.elementNotFound(page, fmt.Sprintf("year %d row %d", year, row), err)
			c.log.Warn("row link missing", "year", year, "row", row, "error", err)
			continue
		}
		if page.table.Href == "" {
			page.table.Row, page.table.Href = row, href
		}
		page.Documents = append(page.Documents, types.DocumentReference{URL: href, Year: year})
	}
	return page, cursor, nil
}

func (c *Collector) rowLink(ctx context.Context, row int) (string, error) {
	loc := c.cfg.Locators.RowLink.With(locator.Row, row)
	el, err := c.driver.Find(ctx, loc)
	if err != nil {
		return "", err
	}
	href, err := c.driver.Attribute(ctx, el, "href")
	if err != nil {
		return "", err
	}
	if href == "" {
		return "", &browser.NotFoundError{Locator: loc}
	}
	return href, nil
}

// advance selects the option after the current page and waits until the page
// shows both a year and rows that have not been scanned yet. When the run
// cannot continue, page.Reason is set instead.
func (c *Collector) advance(ctx context.Context, state types.PaginationState, page *Page) (types.PaginationState, error) {
	option := c.cfg.FirstOption + state.PageIndex

	total, err := c.driver.Count(ctx, c.cfg.Locators.YearOptions)
	if err != nil {
		return state, fmt.Errorf("failed to count year options: %w", err)
	}
	if total == 0 {
		c.elementNotFound(page, "year selector", &browser.NotFoundError{Locator: c.cfg.Locators.YearOptions})
		c.log.Warn("year selector has no options", "locator", c.cfg.Locators.YearOptions.String())
		page.Reason = ReasonSelectorNotFound
		return state, nil
	}
	if option > total {
		c.log.Info("year selector exhausted", "option", option, "options", total)
		page.Reason = ReasonExhausted
		return state, nil
	}

	el, err := c.driver.Find(ctx, c.cfg.Locators.YearOption.With(locator.Option, option))
	if err != nil {
		if !browser.IsNotFound(err) {
			return state, fmt.Errorf("failed to find year option %d: %w", option, err)
		}
		c.elementNotFound(page, fmt.Sprintf("year option %d", option), err)
		c.log.Warn("year option missing", "option", option, "options", total, "error", err)
		page.Reason = ReasonSelectorNotFound
		return state, nil
	}
	if err := c.driver.Click(ctx, el); err != nil {
		return state, fmt.Errorf("failed to select year option %d: %w", option, err)
	}

	next := state
	next.PageIndex++
	next.RowCursor = 0

	before := page.table
	if c.cfg.Locators.ActiveYear.IsZero() && before.Href == "" {
		return next, nil
	}

	// A reading counts once it differs from the scanned page and is seen twice
	// in a row, so a half-updated page is never scanned.
	var last *pageReading
	err = retry.Until(ctx, c.cfg.SettleTimeout, c.cfg.SettleInterval, func(ctx context.Context) (bool, error) {
		reading, changed, err := c.readPage(ctx, state, next.PageIndex, before)
		if err != nil {
			return false, err
		}
		if !changed {
			last = nil
			return false, nil
		}
		settled := last != nil && *last == reading
		last = &reading
		return settled, nil
	})
	if err != nil {
		return state, &DesyncError{PageIndex: next.PageIndex, Option: option, Cause: err}
	}
	return next, nil
}

// readPage observes the live year and table and reports whether both differ
// from what was scanned before the selector moved.
func (c *Collector) readPage(ctx context.Context, state types.PaginationState, pageIndex int, before tableSnapshot) (pageReading, bool, error) {
	var reading pageReading

	year, err := c.activeYear(ctx, pageIndex)
	if err != nil {
		var yearErr *YearError
		if browser.IsNotFound(err) || errors.As(err, &yearErr) {
			return reading, false, nil
		}
		return reading, false, err
	}
	if state.Visited(year) {
		return reading, false, nil
	}
	reading.Year = year

	if before.Href == "" {
		return reading, true, nil
	}

	rows, err := c.driver.Count(ctx, c.cfg.Locators.Rows)
	if err != nil {
		return reading, false, err
	}
	reading.Table = tableSnapshot{Rows: rows, Row: before.Row}

	// Count first so a missing row does not wait out the implicit wait.
	loc := c.cfg.Locators.RowLink.With(locator.Row, before.Row)
	n, err := c.driver.Count(ctx, loc)
	if err != nil {
		return reading, false, err
	}
	if n > 0 {
		href, err := c.rowLink(ctx, before.Row)
		if err != nil && !browser.IsNotFound(err) {
			return reading, false, err
		}
		reading.Table.Href = href
	}

	return reading, reading.Table != before, nil
}

// activeYear reads the selected year, or derives it from BaseYear.
func (c *Collector) activeYear(ctx context.Context, pageIndex int) (int, error) {
	if c.cfg.Locators.ActiveYear.IsZero() {
		return c.cfg.BaseYear - (pageIndex + 1), nil
	}

	el, err := c.driver.Find(ctx, c.cfg.Locators.ActiveYear)
	if err != nil {
		return 0, err
	}
	text, err := c.driver.Text(ctx, el)
	if err != nil {
		return 0, err
	}
	return ParseYear(text)
}

// ParseYear extracts the first four-digit year from text.
func ParseYear(text string) (int, error) {
	match := yearRe.FindString(text)
	if match == "" {
		return 0, &YearError{Text: text}
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0, &YearError{Text: text, Cause: err}
	}
	return year, nil
}
