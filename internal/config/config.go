// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/permit-collector/internal/browser"
	"github.com/jonathan/permit-collector/internal/bulk"
	"github.com/jonathan/permit-collector/internal/collector"
	"github.com/jonathan/permit-collector/internal/fetch"
	"github.com/jonathan/permit-collector/internal/identifiers"
	"github.com/jonathan/permit-collector/internal/locator"
	"github.com/jonathan/permit-collector/internal/ratelimit"
	"github.com/jonathan/permit-collector/internal/retry"
	"github.com/jonathan/permit-collector/internal/schemas"
	schemafiles "github.com/jonathan/permit-collector/schemas"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabaseURL = "PERMIT_DATABASE_URL"
	EnvLogLevel    = "PERMIT_LOG_LEVEL"
	EnvLogFile     = "PERMIT_LOG_FILE"
	EnvMetricsAddr = "PERMIT_METRICS_ADDR"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional in the file; missing values come from Default.
type Config struct {
	Collect CollectConfig `json:"collect"`
	Fetch   FetchConfig   `json:"fetch"`
	HTTP    HTTPConfig    `json:"http"`
	Browser BrowserConfig `json:"browser"`

	DatabaseURL string `json:"database_url,omitempty"`
	LogLevel    string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`
	LogFile     string `json:"log_file,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	Verbose     bool   `json:"verbose,omitempty"`
}

// CollectConfig configures the year-page collector.
type CollectConfig struct {
	RootURL       string         `json:"root_url,omitempty" validate:"required,url"`
	MaxPages      *int           `json:"max_pages,omitempty" validate:"required,min=0,max=50"`
	RowStart      int            `json:"row_start,omitempty" validate:"min=1"`
	RowEnd        int            `json:"row_end,omitempty" validate:"gtefield=RowStart"`
	RowStride     int            `json:"row_stride,omitempty" validate:"min=1"`
	FirstOption   int            `json:"first_option,omitempty" validate:"min=1"`
	BaseYear      int            `json:"base_year,omitempty" validate:"omitempty,min=1900,max=2999"`
	Wait          Duration       `json:"wait,omitempty"`
	SettleTimeout Duration       `json:"settle_timeout,omitempty"`
	Locators      LocatorsConfig `json:"locators"`
}

// LocatorsConfig holds the listing page locators. ActiveYear may be omitted when
// BaseYear is set.
type LocatorsConfig struct {
	Rows       locator.Locator  `json:"rows"`
	RowLink    locator.Locator  `json:"row_link"`
	YearOption locator.Locator  `json:"year_option"`
	ActiveYear *locator.Locator `json:"active_year,omitempty" validate:"omitempty"`
	// RowsContainer and YearOptions are derived from Rows and YearOption when omitted.
	RowsContainer *locator.Locator `json:"rows_container,omitempty" validate:"omitempty"`
	YearOptions   *locator.Locator `json:"year_options,omitempty" validate:"omitempty"`
}

// FetchConfig configures the bulk fetcher.
type FetchConfig struct {
	DetailURLTemplate string          `json:"detail_url_template,omitempty" validate:"required,contains={id}"`
	DownloadLink      locator.Locator `json:"download_link"`
	// StaticDownloadLink is used with the HTTP-only driver, which resolves CSS only.
	StaticDownloadLink locator.Locator `json:"static_download_link"`
	IDColumn           string          `json:"id_column,omitempty" validate:"required"`
	Decode             string          `json:"decode,omitempty" validate:"omitempty,oneof=unicode_escape utf8"`
	Wait               Duration        `json:"wait,omitempty"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	Timeout   Duration `json:"timeout,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Attempts  int      `json:"attempts,omitempty" validate:"min=0,max=10"`
	// RequestsPerSecond throttles requests per host; zero turns the throttle off.
	RequestsPerSecond *float64 `json:"requests_per_second,omitempty" validate:"omitempty,gte=0"`
	Burst             int      `json:"burst,omitempty" validate:"min=0"`
}

// BrowserConfig configures the Chrome driver.
type BrowserConfig struct {
	Headless          *bool    `json:"headless,omitempty"`
	UserAgent         string   `json:"user_agent,omitempty"`
	NavigationTimeout Duration `json:"navigation_timeout,omitempty"`
}

const listingBase = "/html/body/div[2]/div[2]/div[2]/div/div[2]/div/div/div/div[1]"

// Default returns the settings for the Los Angeles City Planning published
// documents listing and the CEQAnet project pages.
func Default() Config {
	maxPages := 3
	headless := true
	requestRate := 2.0
	activeYear := locator.XPathOf(listingBase + "/div[1]/div[1]/div[1]/select")

	return Config{
		Collect: CollectConfig{
			RootURL:       "https://planning.lacity.org/project-review/environmental-review/published-documents",
			MaxPages:      &maxPages,
			RowStart:      2,
			RowEnd:        98,
			RowStride:     2,
			FirstOption:   2,
			BaseYear:      2024,
			Wait:          Duration(20 * time.Second),
			SettleTimeout: Duration(collector.DefaultSettleTimeout),
			Locators: LocatorsConfig{
				Rows:       locator.XPathOf(listingBase + "/div[3]/div/div[1]/table/tbody/tr"),
				RowLink:    locator.XPathOf(listingBase + "/div[3]/div/div[1]/table/tbody/tr[{row}]/td[2]/table/tbody/tr[1]/td[2]/a"),
				YearOption: locator.XPathOf(listingBase + "/div[1]/div[1]/div[1]/select/option[{option}]"),
				ActiveYear: &activeYear,
			},
		},
		Fetch: FetchConfig{
			DetailURLTemplate:  "https://ceqanet.opr.ca.gov/Project/{id}",
			DownloadLink:       locator.XPathOf("/html/body/div/div/main/a[1]"),
			StaticDownloadLink: locator.CSSOf("body > div > div > main > a:nth-of-type(1)"),
			IDColumn:           identifiers.DefaultColumn,
			Decode:             string(bulk.DecodeUnicodeEscape),
			Wait:               Duration(10 * time.Second),
		},
		HTTP: HTTPConfig{
			Timeout:           Duration(fetch.DefaultTimeout),
			UserAgent:         fetch.DefaultUserAgent,
			Attempts:          3,
			RequestsPerSecond: &requestRate,
			Burst:             4,
		},
		Browser: BrowserConfig{
			Headless:          &headless,
			NavigationTimeout: Duration(60 * time.Second),
		},
		LogLevel: "info",
	}
}

// LoadConfig loads configuration from a JSON file.
// The file is checked against the config schema before it is decoded.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to parse config JSON: %s is not valid JSON", path)
	}
	if err := schemas.ValidateJSONBytes(schemafiles.Config, data, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the merged configuration has usable values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Collect.Locators.ActiveYear == nil && c.Collect.BaseYear == 0 {
		return fmt.Errorf("config error: 'collect.base_year' is required without 'collect.locators.active_year'")
	}
	if !strings.Contains(c.Collect.Locators.RowLink.Expr, "{"+locator.Row+"}") {
		return fmt.Errorf("config error: 'collect.locators.row_link' must contain {%s}", locator.Row)
	}
	if !strings.Contains(c.Collect.Locators.YearOption.Expr, "{"+locator.Option+"}") {
		return fmt.Errorf("config error: 'collect.locators.year_option' must contain {%s}", locator.Option)
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	cc, dc := &result.Collect, defaults.Collect
	if cc.RootURL == "" {
		cc.RootURL = dc.RootURL
	}
	if cc.MaxPages == nil {
		cc.MaxPages = dc.MaxPages
	}
	if cc.RowStart == 0 {
		cc.RowStart = dc.RowStart
	}
	if cc.RowEnd == 0 {
		cc.RowEnd = dc.RowEnd
	}
	if cc.RowStride == 0 {
		cc.RowStride = dc.RowStride
	}
	if cc.FirstOption == 0 {
		cc.FirstOption = dc.FirstOption
	}
	if cc.Wait == 0 {
		cc.Wait = dc.Wait
	}
	if cc.SettleTimeout == 0 {
		cc.SettleTimeout = dc.SettleTimeout
	}
	if cc.Locators.Rows.IsZero() {
		cc.Locators.Rows = dc.Locators.Rows
	}
	if cc.Locators.RowLink.IsZero() {
		cc.Locators.RowLink = dc.Locators.RowLink
	}
	if cc.Locators.YearOption.IsZero() {
		cc.Locators.YearOption = dc.Locators.YearOption
	}
	// A file that sets base_year without an active_year locator derives years from it.
	if cc.Locators.ActiveYear == nil && cc.BaseYear == 0 {
		cc.Locators.ActiveYear = dc.Locators.ActiveYear
	}
	if cc.BaseYear == 0 {
		cc.BaseYear = dc.BaseYear
	}

	fc, df := &result.Fetch, defaults.Fetch
	if fc.DetailURLTemplate == "" {
		fc.DetailURLTemplate = df.DetailURLTemplate
	}
	if fc.DownloadLink.IsZero() {
		fc.DownloadLink = df.DownloadLink
	}
	if fc.StaticDownloadLink.IsZero() {
		fc.StaticDownloadLink = df.StaticDownloadLink
	}
	if fc.IDColumn == "" {
		fc.IDColumn = df.IDColumn
	}
	if fc.Decode == "" {
		fc.Decode = df.Decode
	}
	if fc.Wait == 0 {
		fc.Wait = df.Wait
	}

	if result.HTTP.Timeout == 0 {
		result.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if result.HTTP.UserAgent == "" {
		result.HTTP.UserAgent = defaults.HTTP.UserAgent
	}
	if result.HTTP.Attempts == 0 {
		result.HTTP.Attempts = defaults.HTTP.Attempts
	}
	if result.HTTP.RequestsPerSecond == nil {
		result.HTTP.RequestsPerSecond = defaults.HTTP.RequestsPerSecond
	}
	if result.HTTP.Burst == 0 {
		result.HTTP.Burst = defaults.HTTP.Burst
	}

	if result.Browser.Headless == nil {
		result.Browser.Headless = defaults.Browser.Headless
	}
	if result.Browser.UserAgent == "" {
		result.Browser.UserAgent = defaults.Browser.UserAgent
	}
	if result.Browser.NavigationTimeout == 0 {
		result.Browser.NavigationTimeout = defaults.Browser.NavigationTimeout
	}

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	if result.LogFile == "" {
		result.LogFile = defaults.LogFile
	}
	if result.MetricsAddr == "" {
		result.MetricsAddr = defaults.MetricsAddr
	}

	// Bool fields: true wins
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}

// ApplyEnv overrides fields from PERMIT_* environment variables that are set and non-empty.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
}

// ToCollector converts the collect section for collector.New.
func (c *Config) ToCollector() collector.Config {
	cc := c.Collect
	cfg := collector.Config{
		RootURL:     cc.RootURL,
		RowStart:    cc.RowStart,
		RowEnd:      cc.RowEnd,
		RowStride:   cc.RowStride,
		FirstOption: cc.FirstOption,
		BaseYear:    cc.BaseYear,
		Locators: collector.Locators{
			Rows:       cc.Locators.Rows,
			RowLink:    cc.Locators.RowLink,
			YearOption: cc.Locators.YearOption,
		},
		Wait:          cc.Wait.D(),
		SettleTimeout: cc.SettleTimeout.D(),
	}
	if cc.MaxPages != nil {
		cfg.MaxPages = *cc.MaxPages
	}
	if cc.Locators.RowsContainer != nil {
		cfg.Locators.RowsContainer = *cc.Locators.RowsContainer
	}
	if cc.Locators.YearOptions != nil {
		cfg.Locators.YearOptions = *cc.Locators.YearOptions
	}
	if cc.Locators.ActiveYear != nil {
		cfg.Locators.ActiveYear = *cc.Locators.ActiveYear
	}
	return cfg
}

// ToBulk converts the fetch section for bulk.New. static selects the locator
// for the HTTP-only driver.
func (c *Config) ToBulk(static bool) bulk.Config {
	link := c.Fetch.DownloadLink
	if static {
		link = c.Fetch.StaticDownloadLink
	}
	return bulk.Config{
		DetailURLTemplate: locator.Template(c.Fetch.DetailURLTemplate),
		DownloadLink:      link,
		Wait:              c.Fetch.Wait.D(),
		Decode:            bulk.Decoding(c.Fetch.Decode),
	}
}

// FetchOptions converts the http section for fetch.NewClient.
func (c *Config) FetchOptions() *fetch.Options {
	return &fetch.Options{
		Timeout:   c.HTTP.Timeout.D(),
		UserAgent: c.HTTP.UserAgent,
		Retry:     retry.Policy{Attempts: c.HTTP.Attempts},
		Throttle:  c.throttle(),
	}
}

// ChromeOptions converts the browser section for browser.NewChrome.
// The implicit wait is left to the pipeline.
func (c *Config) ChromeOptions() browser.ChromeOptions {
	headless := true
	if c.Browser.Headless != nil {
		headless = *c.Browser.Headless
	}
	return browser.ChromeOptions{
		Headless:          headless,
		UserAgent:         c.Browser.UserAgent,
		NavigationTimeout: c.Browser.NavigationTimeout.D(),
	}
}

func (c *Config) throttle() ratelimit.Config {
	if c.HTTP.RequestsPerSecond == nil {
		return ratelimit.Config{}
	}
	return ratelimit.Config{Rate: *c.HTTP.RequestsPerSecond, Burst: c.HTTP.Burst}
}
