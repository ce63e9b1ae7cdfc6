package collector

import (
	"strings"
	"time"

	"github.com/jonathan/permit-collector/internal/locator"
)

const (
	// MaxPagesLimit is the hard maximum number of year pages per run
	MaxPagesLimit = 50
	// DefaultSettleTimeout bounds the wait for a new year page after a selector click
	DefaultSettleTimeout = 20 * time.Second
	// DefaultSettleInterval is the poll interval while waiting for a year page
	DefaultSettleInterval = 250 * time.Millisecond
)

// Locators holds the structural expressions for the listing page.
type Locators struct {
	// Rows matches every row position of the listing table, data and metadata rows alike.
	Rows locator.Locator `json:"rows"`
	// RowLink resolves the document anchor of the row at position {row}.
	RowLink locator.Locator `json:"row_link"`
	// YearOption resolves option number {option} of the year selector.
	YearOption locator.Locator `json:"year_option"`
	// ActiveYear resolves the element whose text is the selected year. Optional.
	ActiveYear locator.Locator `json:"active_year,omitempty"`
	// RowsContainer resolves the element holding the rows. Derived from Rows when unset.
	RowsContainer locator.Locator `json:"rows_container,omitempty"`
	// YearOptions matches every option of the year selector. Derived from
	// YearOption when unset.
	YearOptions locator.Locator `json:"year_options,omitempty"`
}

// Config configures one collector run.
type Config struct {
	RootURL   string
	MaxPages  int
	RowStart  int
	RowEnd    int
	RowStride int
	// FirstOption is the selector option index of the second year page.
	FirstOption int
	// BaseYear is used only without an ActiveYear locator: page i (0-based) is
	// attributed to BaseYear-(i+1).
	BaseYear       int
	Locators       Locators
	Wait           time.Duration
	SettleTimeout  time.Duration
	SettleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPages > MaxPagesLimit {
		c.MaxPages = MaxPagesLimit
	}
	if c.RowStart == 0 {
		c.RowStart = 2
	}
	if c.RowStride == 0 {
		c.RowStride = 2
	}
	if c.RowEnd == 0 {
		c.RowEnd = 98
	}
	if c.FirstOption == 0 {
		c.FirstOption = 2
	}
	if c.SettleTimeout == 0 {
		c.SettleTimeout = DefaultSettleTimeout
	}
	if c.SettleInterval == 0 {
		c.SettleInterval = DefaultSettleInterval
	}
	if c.Locators.RowsContainer.IsZero() {
		c.Locators.RowsContainer = c.Locators.Rows.Parent()
	}
	if c.Locators.YearOptions.IsZero() {
		c.Locators.YearOptions = c.Locators.YearOption.Unindexed(locator.Option)
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RootURL) == "" {
		return &ConfigError{Field: "root_url", Message: "required"}
	}
	if c.MaxPages < 0 {
		return &ConfigError{Field: "max_pages", Message: "must be non-negative"}
	}
	if c.RowStart < 1 {
		return &ConfigError{Field: "row_start", Message: "row positions start at 1"}
	}
	if c.RowStride < 1 {
		return &ConfigError{Field: "row_stride", Message: "must be positive"}
	}
	if c.RowEnd < c.RowStart {
		return &ConfigError{Field: "row_end", Message: "must not be before row_start"}
	}
	if c.FirstOption < 1 {
		return &ConfigError{Field: "first_option", Message: "option positions start at 1"}
	}
	if c.Locators.ActiveYear.IsZero() && c.BaseYear == 0 {
		return &ConfigError{Field: "base_year", Message: "required when no active_year locator is set"}
	}

	checks := []struct {
		field       string
		loc         locator.Locator
		placeholder string
	}{
		{"locators.rows", c.Locators.Rows, ""},
		{"locators.row_link", c.Locators.RowLink, locator.Row},
		{"locators.year_option", c.Locators.YearOption, locator.Option},
	}
	for _, chk := range checks {
		rendered := chk.loc
		if chk.placeholder != "" {
			if !strings.Contains(chk.loc.Expr, "{"+chk.placeholder+"}") {
				return &ConfigError{Field: chk.field, Message: "missing {" + chk.placeholder + "} placeholder"}
			}
			rendered = chk.loc.With(chk.placeholder, 1)
		}
		if err := rendered.Validate(); err != nil {
			return &ConfigError{Field: chk.field, Message: err.Error()}
		}
	}
	if !c.Locators.ActiveYear.IsZero() {
		if err := c.Locators.ActiveYear.Validate(); err != nil {
			return &ConfigError{Field: "locators.active_year", Message: err.Error()}
		}
	}
	if err := c.Locators.RowsContainer.Validate(); err != nil {
		return &ConfigError{Field: "locators.rows_container", Message: "cannot be derived from locators.rows; set it explicitly"}
	}
	if err := c.Locators.YearOptions.Validate(); err != nil {
		return &ConfigError{Field: "locators.year_options", Message: "cannot be derived from locators.year_option; set it explicitly"}
	}
	return nil
}
