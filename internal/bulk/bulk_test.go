package bulk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/permit-collector/internal/browser/browsertest"
	"github.com/jonathan/permit-collector/internal/locator"
	"github.com/jonathan/permit-collector/internal/types"
)

const (
	detailTemplate = "https://ceqa.example.gov/Project/{id}"
	downloadExpr   = "/html/body/div/div/main/a[1]"
)

type fakeGetter struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func newGetter() *fakeGetter {
	return &fakeGetter{bodies: make(map[string]string), errs: make(map[string]error)}
}

func (g *fakeGetter) Get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.calls = append(g.calls, url)
	if err, ok := g.errs[url]; ok {
		return nil, err
	}
	body, ok := g.bodies[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return []byte(body), nil
}

func testConfig() Config {
	return Config{
		DetailURLTemplate: detailTemplate,
		DownloadLink:      locator.XPathOf(downloadExpr),
	}
}

func detailURL(id string) string {
	return locator.Template(detailTemplate).Render(id)
}

func exportURL(id string) string {
	return "https://ceqa.example.gov/Project/" + id + "/export.csv"
}

// addProject registers a detail page linking to an export with body.
func addProject(d *browsertest.Driver, g *fakeGetter, id, body string) {
	d.AddPage(detailURL(id), browsertest.NewPage().Set(downloadExpr, browsertest.Link(exportURL(id))))
	g.bodies[exportURL(id)] = body
}

func newFetcher(t *testing.T, d *browsertest.Driver, g *fakeGetter) *Fetcher {
	t.Helper()
	f, err := New(d, g, testConfig(), nil)
	require.NoError(t, err)
	return f
}

func TestRun_MissingAnchorIsRecorded(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	addProject(d, g, "2020010001", "SCH Number,Title\n2020010001,Bridge\n")
	d.AddPage(detailURL("2020010002"), browsertest.NewPage())
	addProject(d, g, "2020010003", "SCH Number,Title\n2020010003,Tunnel\n")

	result, err := newFetcher(t, d, g).Run(context.Background(),
		[]types.ProjectIdentifier{"2020010001", "2020010002", "2020010003"})
	require.NoError(t, err)

	assert.Equal(t, []string{"SCH Number", "Title"}, result.Table.Columns)
	assert.Equal(t, [][]string{
		{"2020010001", "Bridge"},
		{"2020010003", "Tunnel"},
	}, result.Table.Rows)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "2020010002", result.Failures[0].Item)
	assert.Equal(t, types.KindElementNotFound, result.Failures[0].Kind)
	require.Len(t, result.Documents, 2)
	assert.Equal(t, exportURL("2020010001"), result.Documents[0].SourceURL)
	assert.Equal(t, 1, result.Documents[1].RowCount())
	assert.Equal(t, []string{exportURL("2020010001"), exportURL("2020010003")}, g.calls)
}

func TestRun_EmptyInput(t *testing.T) {
	d := browsertest.New()
	result, err := newFetcher(t, d, newGetter()).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Table.Len())
	assert.Empty(t, result.Table.Columns)
	assert.Empty(t, result.Failures)
	assert.Empty(t, d.Navigations)
}

func TestRun_FailureKinds(t *testing.T) {
	d := browsertest.New()
	g := newGetter()

	d.NavigateErrs[detailURL("nav")] = errors.New("connection reset")
	addProject(d, g, "http", "")
	g.errs[exportURL("http")] = errors.New("503 service unavailable")
	addProject(d, g, "decode", `a,b\`)
	addProject(d, g, "parse", "")
	d.AddPage(detailURL("nohref"), browsertest.NewPage().Set(downloadExpr, &browsertest.Node{}))

	result, err := newFetcher(t, d, g).Run(context.Background(),
		[]types.ProjectIdentifier{"nav", "http", "decode", "parse", "nohref"})
	require.NoError(t, err)

	got := map[string]types.FailureKind{}
	for _, f := range result.Failures {
		got[f.Item] = f.Kind
	}
	assert.Equal(t, map[string]types.FailureKind{
		"nav":    types.KindNavigationFailure,
		"http":   types.KindFetchFailure,
		"decode": types.KindFetchFailure,
		"parse":  types.KindFetchFailure,
		"nohref": types.KindElementNotFound,
	}, got)
	assert.Empty(t, result.Documents)
}

func TestRun_UnionsColumns(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	addProject(d, g, "a", "SCH Number,Title\n1,One\n")
	addProject(d, g, "b", "SCH Number,Lead Agency\n2,City\n")

	result, err := newFetcher(t, d, g).Run(context.Background(), []types.ProjectIdentifier{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"SCH Number", "Title", "Lead Agency"}, result.Table.Columns)
	assert.Equal(t, [][]string{
		{"1", "One", ""},
		{"2", "", "City"},
	}, result.Table.Rows)
}

func TestRun_DecodesEscapes(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	addProject(d, g, "a", `SCH Number,Title\n1,Caf\xe9\n`)

	result, err := newFetcher(t, d, g).Run(context.Background(), []types.ProjectIdentifier{"a"})
	require.NoError(t, err)

	require.Len(t, result.Table.Rows, 1)
	assert.Equal(t, []string{"1", "Café"}, result.Table.Rows[0])
}

func TestRun_ContextCancelled(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	addProject(d, g, "a", "x\n1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newFetcher(t, d, g).Run(ctx, []types.ProjectIdentifier{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Failures, "cancellation is not an identifier failure")
}

func TestRun_CancelledMidRunKeepsPartialResult(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	addProject(d, g, "a", "x\n1\n")
	addProject(d, g, "b", "x\n2\n")

	ctx, cancel := context.WithCancel(context.Background())
	cg := &cancellingGetter{Getter: g, after: 1, cancel: cancel}

	f, err := New(d, cg, testConfig(), nil)
	require.NoError(t, err)

	result, err := f.Run(ctx, []types.ProjectIdentifier{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, [][]string{{"1"}}, result.Table.Rows)
}

type cancellingGetter struct {
	Getter
	after  int
	n      int
	cancel context.CancelFunc
}

func (g *cancellingGetter) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := g.Getter.Get(ctx, url)
	g.n++
	if g.n >= g.after {
		g.cancel()
	}
	return body, err
}

func TestFetch_ResolvesRelativeHref(t *testing.T) {
	d := browsertest.New()
	g := newGetter()
	d.AddPage(detailURL("7"), browsertest.NewPage().Set(downloadExpr, browsertest.Link("/Project/7/export")))
	g.bodies["https://ceqa.example.gov/Project/7/export"] = "x\n1\n"

	doc, err := newFetcher(t, d, g).Fetch(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "https://ceqa.example.gov/Project/7/export", doc.SourceURL)
	assert.Equal(t, types.ProjectIdentifier("7"), doc.Identifier)
	assert.Equal(t, []byte("x\n1\n"), doc.RawContent)
}

func TestFetch_ReturnsItemError(t *testing.T) {
	d := browsertest.New()
	_, err := newFetcher(t, d, newGetter()).Fetch(context.Background(), "missing")

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, types.KindNavigationFailure, itemErr.Kind)
	assert.Equal(t, "missing", itemErr.Failure().Item)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"template without id", func(c *Config) { c.DetailURLTemplate = "https://ceqa.example.gov/Project" }, "detail_url_template"},
		{"empty download link", func(c *Config) { c.DownloadLink = locator.Locator{} }, "download_link"},
		{"unknown decoding", func(c *Config) { c.Decode = "latin9" }, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(browsertest.New(), newGetter(), cfg, nil)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	_, err := New(browsertest.New(), nil, testConfig(), nil)
	assert.Error(t, err)
}
