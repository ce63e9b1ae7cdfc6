package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/permit-collector/internal/locator"
)

const projectPage = `
<html>
	<body>
		<div>
			<main>
				<a class="download" href="/Project/2023010101/Download">Download CSV</a>
				<a href="https://example.org/other">Other</a>
				<select id="year">
					<option value="2023">2023</option>
					<option value="2022" selected>2022</option>
				</select>
			</main>
		</div>
	</body>
</html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Project/2023010101", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(projectPage))
	})
	mux.HandleFunc("/Project/2023010101/Download", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>downloaded</p></body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestStatic_FindAndResolveHref(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)

	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	el, err := d.Find(ctx, locator.CSSOf("main a.download"))
	require.NoError(t, err)

	href, err := d.Attribute(ctx, el, "href")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/Project/2023010101/Download", href)

	text, err := d.Text(ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "Download CSV", text)
}

func TestStatic_Count(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	n, err := d.Count(ctx, locator.CSSOf("main a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = d.Count(ctx, locator.CSSOf("table tr"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatic_NotFound(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	_, err := d.Find(ctx, locator.CSSOf("main a.missing"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNavigation(err))
}

func TestStatic_XPathUnsupported(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	_, err := d.Find(ctx, locator.XPathOf("/html/body/div/main/a[1]"))
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, IsNotFound(err))
}

func TestStatic_NavigationFailure(t *testing.T) {
	server := newSite(t)
	d := NewStatic(nil)

	err := d.Navigate(context.Background(), server.URL+"/Project/missing")
	require.Error(t, err)
	assert.True(t, IsNavigation(err))
}

func TestStatic_ClickFollowsLink(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	el, err := d.Find(ctx, locator.CSSOf("a.download"))
	require.NoError(t, err)
	require.NoError(t, d.Click(ctx, el))

	assert.Equal(t, server.URL+"/Project/2023010101/Download", d.URL())
	p, err := d.Find(ctx, locator.CSSOf("p"))
	require.NoError(t, err)
	text, _ := d.Text(ctx, p)
	assert.Equal(t, "downloaded", text)
}

func TestStatic_ClickWithoutHref(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	el, err := d.Find(ctx, locator.CSSOf("#year option"))
	require.NoError(t, err)
	assert.ErrorIs(t, d.Click(ctx, el), ErrUnsupported)
}

func TestStatic_SelectText(t *testing.T) {
	server := newSite(t)
	ctx := context.Background()
	d := NewStatic(nil)
	require.NoError(t, d.Navigate(ctx, server.URL+"/Project/2023010101"))

	el, err := d.Find(ctx, locator.CSSOf("#year"))
	require.NoError(t, err)
	text, err := d.Text(ctx, el)
	require.NoError(t, err)
	assert.Equal(t, "2022", text)
}

func TestStatic_FindBeforeNavigate(t *testing.T) {
	_, err := NewStatic(nil).Find(context.Background(), locator.CSSOf("a"))
	var drvErr *Error
	assert.ErrorAs(t, err, &drvErr)
}

func TestNotFoundError_Is(t *testing.T) {
	err := error(&NotFoundError{Locator: locator.XPathOf("//a")})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "xpath://a")
}
