package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/api"
	"github.com/JakeFAU/docfetcher/internal/config"
	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/parser"
)

type mockIDs struct {
	mock.Mock
}

func (m *mockIDs) NewID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

var listingPages = map[string][]string{
	"1": {"/a", "/b"},
	"2": {"/b", "/c"},
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		links, ok := listingPages[r.URL.Query().Get("page")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><ul>")
		for _, l := range links {
			fmt.Fprintf(w, `<li class="row"><a href="%s">Item %s</a></li>`, l, l)
		}
		fmt.Fprint(w, "</ul></body></html>")
	})
	for _, p := range []string{"/a", "/b", "/c"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<html><body><article><p>Body of %s.</p></article></body></html>", p)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetcher.Site = "example"
	cfg.Fetcher.SearchURL = baseURL + "/list?page={page}"
	cfg.Fetcher.OutputDir = t.TempDir()
	cfg.Fetcher.Delay = 0
	cfg.Fetcher.Workers = 2
	cfg.Headless.Enabled = false
	cfg.Extract.OCREnabled = false
	cfg.Storage.Backend = config.BackendMemory
	cfg.Sites = map[string]parser.Descriptor{
		"example": {
			Listing: parser.ListingSelectors{Item: "li.row", Link: "a[href]"},
			Detail:  parser.DetailSelectors{Content: "article"},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // test cleanup
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	require.NoError(t, scanner.Err())
	return n
}

func TestExecuteFetchEndToEnd(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv.URL)
	a := build(t, cfg)

	summaries, err := a.Execute(context.Background(), ModeFetch)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	links, articles := summaries[0], summaries[1]
	assert.Equal(t, crawler.PhaseLinks, links.Phase)
	assert.Equal(t, 3, links.Discovered)
	assert.Equal(t, 1, links.Duplicates)
	assert.Equal(t, 3, links.Total)
	assert.Equal(t, crawler.PhaseArticles, articles.Phase)
	assert.Equal(t, 3, articles.Discovered)
	assert.Equal(t, "example", articles.Site)

	assert.Equal(t, 3, countLines(t, filepath.Join(cfg.Fetcher.OutputDir, "links.jsonl")))
	assert.Equal(t, 3, countLines(t, filepath.Join(cfg.Fetcher.OutputDir, "articles.jsonl")))
	assert.Len(t, a.Latest(), 2)

	again, err := a.Execute(context.Background(), ModeFetch)
	require.NoError(t, err)
	assert.Equal(t, 0, again[0].Discovered)
	assert.Equal(t, 3, again[0].Total)
	assert.Equal(t, 0, again[1].Discovered)
	assert.Equal(t, 3, countLines(t, filepath.Join(cfg.Fetcher.OutputDir, "articles.jsonl")))
}

func TestExecuteLinksThenArticles(t *testing.T) {
	srv := newSite(t)
	cfg := testConfig(t, srv.URL)
	cfg.Fetcher.MaxArticles = 2
	a := build(t, cfg)

	summaries, err := a.Execute(context.Background(), ModeLinks)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, crawler.PhaseLinks, summaries[0].Phase)
	_, err = os.Stat(filepath.Join(cfg.Fetcher.OutputDir, "articles.jsonl"))
	assert.True(t, os.IsNotExist(err))

	summaries, err = a.Execute(context.Background(), ModeArticles)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, crawler.PhaseArticles, summaries[0].Phase)
	assert.Equal(t, 2, summaries[0].Discovered)
}

func TestExecuteRejectsUnknownMode(t *testing.T) {
	srv := newSite(t)
	a := build(t, testConfig(t, srv.URL))

	_, err := a.Execute(context.Background(), "crawl")
	require.ErrorContains(t, err, "unknown mode")
	_, err = a.Start("crawl")
	require.Error(t, err)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	srv := newSite(t)
	a := build(t, testConfig(t, srv.URL))

	require.NoError(t, a.acquire())
	_, err := a.Start(ModeFetch)
	require.ErrorIs(t, err, api.ErrRunInProgress)
	_, err = a.Execute(context.Background(), ModeFetch)
	require.ErrorIs(t, err, api.ErrRunInProgress)
	a.release()
}

func TestStartRunsInBackground(t *testing.T) {
	srv := newSite(t)
	a := build(t, testConfig(t, srv.URL))
	ids := &mockIDs{}
	ids.On("NewID").Return("run-bg", nil).Once()
	a.ids = ids

	runID, err := a.Start(ModeLinks)
	require.NoError(t, err)
	assert.Equal(t, "run-bg", runID)

	require.Eventually(t, func() bool {
		latest := a.Latest()
		return len(latest) == 1 && latest[0].RunID == "run-bg"
	}, 5*time.Second, 10*time.Millisecond)
	ids.AssertExpectations(t)
}

func TestStartReleasesOnIDFailure(t *testing.T) {
	srv := newSite(t)
	a := build(t, testConfig(t, srv.URL))
	ids := &mockIDs{}
	ids.On("NewID").Return("", errors.New("entropy exhausted"))
	a.ids = ids

	_, err := a.Start(ModeFetch)
	require.ErrorContains(t, err, "generate run id")
	require.NoError(t, a.acquire())
	a.release()
}

func TestBuildRejectsUnknownSite(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Fetcher.Site = "nowhere"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown site")
}

func TestReadyTracksShutdown(t *testing.T) {
	srv := newSite(t)
	a, err := Build(context.Background(), testConfig(t, srv.URL), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.ready(context.Background()))
	require.NoError(t, a.Close(context.Background()))
	require.Error(t, a.ready(context.Background()))
}
