package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jonathan/permit-collector/internal/browser"
	"github.com/jonathan/permit-collector/internal/locator"
	"github.com/jonathan/permit-collector/internal/observability"
	"github.com/jonathan/permit-collector/internal/types"
)

// Getter downloads a URL. *fetch.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config configures the bulk fetcher.
type Config struct {
	// DetailURLTemplate is the project detail page with an {id} placeholder.
	DetailURLTemplate locator.Template
	// DownloadLink resolves the export anchor on the detail page.
	DownloadLink locator.Locator
	Wait         time.Duration
	Decode       Decoding
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.DetailURLTemplate.Valid() {
		return &ConfigError{Field: "detail_url_template", Message: "missing {id} placeholder"}
	}
	if err := c.DownloadLink.Validate(); err != nil {
		return &ConfigError{Field: "download_link", Message: err.Error()}
	}
	if c.Decode != "" && !c.Decode.Valid() {
		return &ConfigError{Field: "decode", Message: fmt.Sprintf("unknown decoding %q", c.Decode)}
	}
	return nil
}

// Result is the outcome of a run.
type Result struct {
	// Table holds the rows of every fetched document, in identifier order.
	Table     *types.Table
	Documents []types.FetchedDocument
	Failures  []types.ItemFailure
}

// Fetcher processes project identifiers one at a time through a browser.Driver.
type Fetcher struct {
	driver browser.Driver
	http   Getter
	cfg    Config
	log    *slog.Logger
}

// New creates a fetcher. The driver must not be shared with another run.
func New(driver browser.Driver, getter Getter, cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if driver == nil {
		return nil, &ConfigError{Field: "driver", Message: "required"}
	}
	if getter == nil {
		return nil, &ConfigError{Field: "http", Message: "required"}
	}
	if cfg.Decode == "" {
		cfg.Decode = DecodeUnicodeEscape
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fetcher{driver: driver, http: getter, cfg: cfg, log: observability.OrDiscard(logger)}, nil
}

// Run processes ids in order. A failing identifier is recorded and skipped. When ctx
// is cancelled the partial result is returned together with ctx.Err().
func (f *Fetcher) Run(ctx context.Context, ids []types.ProjectIdentifier) (*Result, error) {
	result := &Result{Table: types.NewTable()}
	if len(ids) == 0 {
		return result, nil
	}

	if f.cfg.Wait > 0 {
		f.driver.SetImplicitWait(f.cfg.Wait)
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := f.Fetch(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			var itemErr *ItemError
			if !errors.As(err, &itemErr) {
				return result, err
			}
			failure := itemErr.Failure()
			result.Failures = append(result.Failures, failure)
			observability.IdentifiersProcessed.WithLabelValues("failed").Inc()
			observability.ItemFailures.WithLabelValues(observability.PipelineFetch, string(failure.Kind)).Inc()
			f.log.Warn("identifier failed",
				"identifier", id,
				"position", i+1,
				"total", len(ids),
				"kind", failure.Kind,
				"error", itemErr.Cause)
			continue
		}

		result.Table.Append(doc.Table)
		result.Documents = append(result.Documents, *doc)
		observability.IdentifiersProcessed.WithLabelValues("ok").Inc()
		f.log.Info("identifier fetched",
			"identifier", id,
			"position", i+1,
			"total", len(ids),
			"rows", doc.RowCount())
	}

	f.log.Info("bulk fetch finished",
		"identifiers", len(ids),
		"documents", len(result.Documents),
		"rows", result.Table.Len(),
		"failures", len(result.Failures))
	return result, nil
}

// Fetch processes a single identifier. Step failures are returned as *ItemError.
func (f *Fetcher) Fetch(ctx context.Context, id types.ProjectIdentifier) (*types.FetchedDocument, error) {
	detailURL := f.cfg.DetailURLTemplate.Render(url.PathEscape(string(id)))

	if err := f.driver.Navigate(ctx, detailURL); err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindNavigationFailure, Cause: err}
	}

	el, err := f.driver.Find(ctx, f.cfg.DownloadLink)
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindElementNotFound, Cause: err}
	}
	href, err := f.driver.Attribute(ctx, el, "href")
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindElementNotFound, Cause: err}
	}
	if href == "" {
		return nil, &ItemError{Identifier: id, Kind: types.KindElementNotFound, Cause: errors.New("download link has no href")}
	}
	source, err := resolve(detailURL, href)
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindElementNotFound, Cause: err}
	}

	body, err := f.http.Get(ctx, source)
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindFetchFailure, Cause: err}
	}
	text, err := Decode(f.cfg.Decode, body)
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindFetchFailure, Cause: err}
	}
	table, err := ParseCSV(text)
	if err != nil {
		return nil, &ItemError{Identifier: id, Kind: types.KindFetchFailure, Cause: err}
	}

	return &types.FetchedDocument{
		Identifier: id,
		SourceURL:  source,
		RawContent: body,
		Table:      table,
	}, nil
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid detail URL: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid download href %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
