package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

type stubFetcher struct {
	name  string
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.calls++
	if s.err != nil {
		return crawler.FetchResponse{}, s.err
	}
	return crawler.FetchResponse{
		URL:          req.URL,
		StatusCode:   http.StatusOK,
		Headers:      http.Header{"Content-Type": {"text/html"}},
		Body:         []byte(s.body),
		UsedHeadless: s.name == "headless",
	}, nil
}

func TestRouterSendsRenderRequestsToHeadless(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{name: "static", body: "<p>static</p>"}
	headless := &stubFetcher{name: "headless", body: "<p>rendered</p>"}
	r := NewRouter(static, WithHeadless(headless))

	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test", Render: true})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Equal(t, 0, static.calls)

	resp, err = r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test"})
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless)
}

func TestRouterFallsBackToStaticWithoutHeadless(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{name: "static", body: "<p>static</p>"}
	r := NewRouter(static, WithLogger(nil))

	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test", Render: true})
	require.NoError(t, err)
	require.Equal(t, "<p>static</p>", string(resp.Body))
}

func TestRouterPromotesShells(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{name: "static", body: `<div id="__next"></div>`}
	headless := &stubFetcher{name: "headless", body: "<p>rendered</p>"}
	r := NewRouter(static, WithHeadless(headless), WithPromoter(NewHeuristic(100)))

	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test"})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)

	headless.err = errors.New("chrome missing")
	resp, err = r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test"})
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless, "keeps static response when promotion fails")
}

func TestRouterPropagatesStaticError(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: crawler.ErrFetch}
	_, err := NewRouter(static).Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test"})
	require.ErrorIs(t, err, crawler.ErrFetch)
}

type stubWaiter struct {
	err  error
	urls []string
}

func (w *stubWaiter) Wait(_ context.Context, url string) error {
	w.urls = append(w.urls, url)
	return w.err
}

func TestRouterWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{name: "static"}
	waiter := &stubWaiter{}
	r := NewRouter(static, WithLimiter(waiter))

	_, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/a"})
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.test/a"}, waiter.urls)

	waiter.err = context.Canceled
	_, err = r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.test/b"})
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.Equal(t, 1, static.calls)
}
