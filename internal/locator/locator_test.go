package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorWith(t *testing.T) {
	l := XPathOf("//table/tbody/tr[{row}]/td[2]/a")
	rendered := l.With(Row, 4)

	assert.Equal(t, "//table/tbody/tr[4]/td[2]/a", rendered.Expr)
	assert.Equal(t, "//table/tbody/tr[{row}]/td[2]/a", l.Expr, "original must be unchanged")
}

func TestLocatorKindDefaultsToXPath(t *testing.T) {
	assert.Equal(t, XPath, Locator{Expr: "//a"}.Kind())
	assert.Equal(t, CSS, CSSOf("a").Kind())
}

func TestLocatorValidate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Locator
		wantErr string
	}{
		{"valid xpath", XPathOf("//a"), ""},
		{"valid css", CSSOf("main a"), ""},
		{"empty", XPathOf("  "), "empty expression"},
		{"unknown strategy", New("regex", "a+"), "unknown strategy"},
		{"unresolved", XPathOf("//tr[{row}]"), "unresolved placeholders [row]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.loc.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var locErr *Error
			assert.ErrorAs(t, err, &locErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTemplateRender(t *testing.T) {
	tmpl := Template("https://ceqanet.opr.ca.gov/Project/{id}")
	assert.True(t, tmpl.Valid())
	assert.Equal(t, "https://ceqanet.opr.ca.gov/Project/2023010101", tmpl.Render("2023010101"))
	assert.False(t, Template("https://example.com").Valid())
}

func TestLocatorParent(t *testing.T) {
	tests := []struct {
		name string
		in   Locator
		want Locator
	}{
		{"xpath rows", XPathOf("/html/body/div[2]/table/tbody/tr"), XPathOf("/html/body/div[2]/table/tbody")},
		{"xpath slash in predicate", XPathOf("//div[@data-path='a/b']/table/tr"), XPathOf("//div[@data-path='a/b']/table")},
		{"xpath descendant step", XPathOf("//table//tr"), XPathOf("//table")},
		{"xpath single step", XPathOf("//tr"), Locator{}},
		{"css child", CSSOf("#listing table > tbody > tr"), CSSOf("#listing table > tbody")},
		{"css descendant", CSSOf("table tr"), CSSOf("table")},
		{"css attribute with space", CSSOf(`div[title="a b"] tr`), CSSOf(`div[title="a b"]`)},
		{"css single compound", CSSOf("tr"), Locator{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Parent())
		})
	}
}

func TestLocatorUnindexed(t *testing.T) {
	tests := []struct {
		name string
		in   Locator
		want Locator
	}{
		{"xpath", XPathOf("//select/option[{option}]"), XPathOf("//select/option")},
		{"css nth-of-type", CSSOf("#year option:nth-of-type({option})"), CSSOf("#year option")},
		{"css nth-child", CSSOf("#year > option:nth-child({option})"), CSSOf("#year > option")},
		{"no positional predicate", XPathOf("//select/option[@value='{option}']"), Locator{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Unindexed(Option))
		})
	}
}
