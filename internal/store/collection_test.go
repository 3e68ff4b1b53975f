package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

func newLinks(t *testing.T, dir string) *Collection[crawler.LinkRecord] {
	t.Helper()
	c, err := New[crawler.LinkRecord](Config{Dir: dir, Name: "links.jsonl"}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New[crawler.LinkRecord](Config{Name: "links.jsonl"}, nil)
	require.Error(t, err)
	_, err = New[crawler.LinkRecord](Config{Dir: t.TempDir()}, nil)
	require.Error(t, err)
}

func TestLoadMissingSnapshotIsEmpty(t *testing.T) {
	t.Parallel()

	c := newLinks(t, filepath.Join(t.TempDir(), "not", "yet"))
	records, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	in := []crawler.LinkRecord{
		{URL: "u", Title: "first"},
		{URL: "v", Title: "other"},
		{URL: "u", Title: "second"},
		{URL: "u", Title: "third"},
	}
	out, removed := Dedupe(in)
	require.Equal(t, 2, removed)
	require.Len(t, out, 2)
	require.Equal(t, "first", out[0].Title)
	require.Equal(t, "v", out[1].URL)
}

func TestMergeAndSnapshotExistingWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newLinks(t, dir)
	ctx := context.Background()

	existing := []crawler.LinkRecord{{URL: "a", Title: "old"}}
	fresh := []crawler.LinkRecord{{URL: "a", Title: "new"}, {URL: "b", Title: "b"}}

	merged, removed, err := c.MergeAndSnapshot(ctx, existing, fresh)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, []crawler.LinkRecord{{URL: "a", Title: "old"}, {URL: "b", Title: "b"}}, merged)

	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, merged, loaded)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestMergeAndSnapshotOverwritesWholeFile(t *testing.T) {
	t.Parallel()

	c := newLinks(t, t.TempDir())
	ctx := context.Background()

	_, _, err := c.MergeAndSnapshot(ctx, nil, []crawler.LinkRecord{{URL: "a"}, {URL: "b"}, {URL: "c"}})
	require.NoError(t, err)
	_, _, err = c.MergeAndSnapshot(ctx, []crawler.LinkRecord{{URL: "z"}}, nil)
	require.NoError(t, err)

	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.LinkRecord{{URL: "z"}}, loaded)
}

func TestAppendIsLineAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()

	c := newLinks(t, t.TempDir())
	ctx := context.Background()

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := crawler.LinkRecord{
					URL:   fmt.Sprintf("https://example.test/%d/%d", w, i),
					Title: strings.Repeat("x", 512),
				}
				assert.NoError(t, c.Append(ctx, rec))
			}
		}(w)
	}
	wg.Wait()

	records, err := readJSONL[crawler.LinkRecord](c.LogPath())
	require.NoError(t, err)
	require.Len(t, records, writers*perWriter)
	_, removed := Dedupe(records)
	require.Zero(t, removed)
}

func TestAppendDoesNotTouchSnapshot(t *testing.T) {
	t.Parallel()

	c := newLinks(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, crawler.LinkRecord{URL: "a"}))
	require.NoError(t, c.Append(ctx, crawler.LinkRecord{URL: "a"}))

	_, err := os.Stat(c.SnapshotPath())
	require.ErrorIs(t, err, os.ErrNotExist)

	logged, err := readJSONL[crawler.LinkRecord](c.LogPath())
	require.NoError(t, err)
	require.Len(t, logged, 2, "the log keeps duplicates")
}

func TestAppendAfterCancelStillLogs(t *testing.T) {
	t.Parallel()

	c := newLinks(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Append(ctx, crawler.LinkRecord{URL: "late"}))

	logged, err := readJSONL[crawler.LinkRecord](c.LogPath())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Equal(t, "late", logged[0].URL)
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newLinks(t, dir)
	require.NoError(t, os.WriteFile(c.SnapshotPath(), []byte("{\"url\":\"a\"}\nnot-json\n"), 0o600))

	_, err := c.Load(context.Background())
	require.ErrorContains(t, err, ":2:")
}

func TestArticleSnapshotRoundTripsPagedText(t *testing.T) {
	t.Parallel()

	c, err := New[crawler.ArticleRecord](Config{Dir: t.TempDir(), Name: "articles.jsonl"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	article := crawler.ArticleRecord{
		LinkRecord: crawler.LinkRecord{URL: "https://example.test/doc.pdf", Title: "Doc"},
		Text:       crawler.Text{"page one", "page two"},
		Extraction: crawler.PathPDFOCR,
	}
	_, _, err = c.MergeAndSnapshot(ctx, nil, []crawler.ArticleRecord{article})
	require.NoError(t, err)

	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, article.Text, loaded[0].Text)
	require.Equal(t, article.LinkRecord, loaded[0].LinkRecord)
}

type recordingMirror struct {
	mu    sync.Mutex
	paths []string
	data  []string
}

func (m *recordingMirror) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
	m.data = append(m.data, string(b))
	return "memory://" + path, nil
}

func TestMergeAndSnapshotMirrorsSnapshot(t *testing.T) {
	t.Parallel()

	mirror := &recordingMirror{}
	c, err := New[crawler.LinkRecord](Config{
		Dir:          t.TempDir(),
		Name:         "links.jsonl",
		Mirror:       mirror,
		MirrorPrefix: "/snapshots/bis/",
	}, nil)
	require.NoError(t, err)

	_, _, err = c.MergeAndSnapshot(context.Background(), nil, []crawler.LinkRecord{{URL: "a"}})
	require.NoError(t, err)

	require.Equal(t, []string{"snapshots/bis/links.jsonl"}, mirror.paths)
	scanner := bufio.NewScanner(strings.NewReader(mirror.data[0]))
	lines := 0
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 1, lines)
}
