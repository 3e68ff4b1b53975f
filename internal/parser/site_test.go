package parser

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

const khmerListing = `<html><body>
<section class="section-category">
  <article><h2 class="item-title"> First   story </h2><a href="/2024/01/first/#comments">read</a></article>
  <article><h2 class="item-title">No link here</h2></article>
  <article><a href="https://www.khmertimeskh.com/2024/01/second/">Second story</a></article>
</section>
<article><h2 class="item-title">Outside</h2><a href="/outside/">x</a></article>
</body></html>`

const khmerDetail = `<html><body>
<div class="entry-meta">
  <a rel="tag" href="/t/economy">Economy</a><a rel="tag" href="/t/bank"> Banking </a>
  <time class="entry-time" datetime="2024-01-05T09:30:00+07:00">5 Jan</time>
</div>
<div class="entry-content"><p>First paragraph.</p><p>Second paragraph.</p></div>
</body></html>`

func page(url string, status int, body string) crawler.FetchResponse {
	return crawler.FetchResponse{
		URL:        url,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func newKhmer(t *testing.T) *Site {
	t.Helper()
	site, err := NewSite(KhmerTimes(), nil)
	require.NoError(t, err)
	return site
}

func TestParseListingExtractsRowsInOrder(t *testing.T) {
	t.Parallel()

	links, err := newKhmer(t).ParseListing(page("https://www.khmertimeskh.com/page/1/?s=rice", 200, khmerListing))
	require.NoError(t, err)
	require.Len(t, links, 2)

	assert.Equal(t, "https://www.khmertimeskh.com/2024/01/first/", links[0].URL)
	assert.Equal(t, "First story", links[0].Title)
	assert.Equal(t, "https://www.khmertimeskh.com/2024/01/second/", links[1].URL)
	assert.Equal(t, "Second story", links[1].Title, "falls back to link text")
	assert.Empty(t, links[0].PageURL, "walker stamps page metadata")
}

func TestParseListingNotFoundIsSentinel(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		links, err := newKhmer(t).ParseListing(page("https://example.test/p/9", status, ""))
		require.ErrorIs(t, err, crawler.ErrNoSuchPage)
		require.Nil(t, links)
	}
}

func TestParseListingMissingContainerIsParseError(t *testing.T) {
	t.Parallel()

	_, err := newKhmer(t).ParseListing(page("https://example.test/p/1", 200, "<html><body><p>maintenance</p></body></html>"))
	require.ErrorIs(t, err, crawler.ErrParse)

	_, err = newKhmer(t).ParseListing(page("https://example.test/p/1", 503, ""))
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.False(t, errors.Is(err, crawler.ErrNoSuchPage))
}

func TestParseListingEmptyContainerIsEmptyPage(t *testing.T) {
	t.Parallel()

	links, err := newKhmer(t).ParseListing(page("https://example.test/p/1", 200, `<section class="section-category"></section>`))
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestParseDetailKhmer(t *testing.T) {
	t.Parallel()

	out, err := newKhmer(t).ParseDetail(page("https://www.khmertimeskh.com/2024/01/first/", 200, khmerDetail))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, crawler.Text{"First paragraph.\nSecond paragraph."}, out.Text)
	assert.Equal(t, []string{"Economy", "Banking"}, out.Categories)
	assert.Equal(t, "2024-01-05T09:30:00+07:00", out.Time)
	assert.Equal(t, crawler.PathHTML, out.Path)
	assert.Empty(t, out.PDFURL)
}

func TestParseDetailUnrecognized(t *testing.T) {
	t.Parallel()

	site := newKhmer(t)

	out, err := site.ParseDetail(page("https://example.test/a", 200, `<div class="entry-content"><p>orphan</p></div>`))
	require.NoError(t, err)
	require.Nil(t, out, "meta block is required")

	out, err = site.ParseDetail(page("https://example.test/a", 404, ""))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestParseDetailFindsPDFReference(t *testing.T) {
	t.Parallel()

	site, err := NewSite(BIS(), nil)
	require.NoError(t, err)

	body := `<html><body><div id="center"><span class="date">2024-03-14</span></div>
<div id="cmsContent"></div>
<a class="pdftitle_link" href="/review/r240314a.pdf">Full text</a></body></html>`
	out, err := site.ParseDetail(page("https://www.bis.org/review/r240314a.htm", 200, body))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "https://www.bis.org/review/r240314a.pdf", out.PDFURL)
	assert.Equal(t, "2024-03-14T00:00:00Z", out.Time)
	assert.True(t, out.Text.IsBlank())
}

func TestParseDetailReadabilityFallback(t *testing.T) {
	t.Parallel()

	desc := Descriptor{
		Name:    "generic",
		Listing: ListingSelectors{Item: "li", Link: "a"},
		Detail:  DetailSelectors{Content: "div.missing", Readability: true},
	}
	site, err := NewSite(desc, nil)
	require.NoError(t, err)

	body := `<html><head><title>Monetary policy</title></head><body><article>
<h1>Monetary policy</h1>
<p>Central banks set interest rates to keep inflation close to target over the medium term, and the
transmission of those decisions to lending conditions takes many months to play out in full.</p>
<p>Governors explained the framework to the press in detail, covering the balance sheet, forward guidance
and the operational changes that took effect at the start of the year.</p>
<p>Questions from journalists focused on wage growth, energy prices and the outlook for the exchange rate,
and the answers repeated that policy would stay data dependent until inflation was clearly back at target
and expectations remained well anchored across households and firms.</p>
</article></body></html>`
	out, err := site.ParseDetail(page("https://example.test/speech", 200, body))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Contains(t, out.Text.String(), "Central banks set interest rates")
}

func TestDescriptorValidate(t *testing.T) {
	t.Parallel()

	for _, d := range Builtins() {
		require.NoError(t, d.Validate(), d.Name)
	}
	require.Error(t, Descriptor{}.Validate())
	require.Error(t, Descriptor{Name: "x", Listing: ListingSelectors{Item: "li"}}.Validate())
	require.Error(t, Descriptor{Name: "x", Listing: ListingSelectors{Item: "li", Link: "a"}}.Validate())
}

func TestNormalizeTime(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                          "",
		"2024-01-05T09:30:00+07:00": "2024-01-05T09:30:00+07:00",
		"2024-01-05":                "2024-01-05T00:00:00Z",
		"not a date at all":         "not a date at all",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTime(in), in)
	}
}

func TestParseURLOrZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.test", parseURLOrZero("https://example.test/a").Host)
	bad := parseURLOrZero("://no scheme")
	require.NotNil(t, bad)
	assert.Empty(t, bad.String())
}
