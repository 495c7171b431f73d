package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/harvest/browser"
	"github.com/pevans/harvest/corpus"
	"github.com/pevans/harvest/logger"
)

const firstResults = `<html><head><title>java - 搜索</title></head><body>
<div class="list">
  <a href="/feed/main/detail/a1?sourceSSR=search">a1</a>
  <a href="/feed/main/detail/a2?sourceSSR=search">a2</a>
  <a href="/feed/main/detail/a3?sourceSSR=search">a3</a>
</div>
<div class="pagination"><a href="/search?page=1">1</a><a href="/search2">2</a></div>
</body></html>`

const secondResults = `<html><head><title>java - 搜索</title></head><body>
<div class="list">
  <a href="/feed/main/detail/b1">b1</a>
  <a href="/feed/main/detail/b2">b2</a>
  <a href="/feed/main/detail/b3">b3</a>
</div>
</body></html>`

// closeCounter records how many browsers were closed.
type closeCounter struct {
	browser.Browser
	closed *int
}

func (c closeCounter) Close() error {
	*c.closed++
	return c.Browser.Close()
}

// testSite serves two result pages and detail pages for the first two
// links: a1 has 120 runes of content and a2 only 30.
func testSite(t *testing.T) string {
	t.Helper()
	server := serveHTML(t, map[string]string{
		"/search":  firstResults,
		"/search2": secondResults,
		"/feed/main/detail/a1": detailPage("阿里Java一面_牛客网",
			`<article>`+strings.Repeat("问了JVM垃圾回收器", 12)+`</article>`),
		"/feed/main/detail/a2": detailPage("a2_牛客网", `<p>`+strings.Repeat("短", 30)+`</p>`),
	})
	return server.URL
}

// createTestHarvester wires a harvester over the Static browser with
// millisecond timings. closed counts browser closes.
func createTestHarvester(t *testing.T, baseURL string, store Merger, maxPages, target int) (*Harvester, *int) {
	t.Helper()

	closed := new(int)
	opener := browser.OpenerFunc(func(ctx context.Context) (browser.Browser, error) {
		return closeCounter{Browser: browser.NewStatic(browser.StaticOptions{}), closed: closed}, nil
	})

	log := logger.Nop()
	links := NewLinkCollector("/feed/main/detail", "/discuss/")
	pager := NewPager(links, PagerOptions{
		Containers:      []string{".el-pagination", ".pagination"},
		MaxAttempts:     3,
		RetryDelay:      time.Millisecond,
		ConfirmInterval: time.Millisecond,
	}, log)
	details := NewDetailExtractor(DetailOptions{
		LoadAttempts:     2,
		ReadyTimeout:     time.Second,
		LoadRetryDelay:   time.Millisecond,
		TitleSuffix:      "_牛客网",
		Strategies:       ContentStrategies(testRegions, 80, 6, false),
		MinContentLength: 50,
	}, log)
	records := NewRecordBuilder([]string{"Java", "校招"}, 100)

	h := NewHarvester(opener, links, pager, details, records, store, Options{
		SearchURL:          baseURL + "/search",
		MaxPages:           maxPages,
		TargetCount:        target,
		PopupCloseSelector: ".icon-close",
	}, log)
	return h, closed
}

// createTestCorpus returns a corpus store in a temp directory.
func createTestCorpus(t *testing.T) *corpus.Store {
	t.Helper()
	store, err := corpus.NewStore(filepath.Join(t.TempDir(), "assets", "interview_data.json"), corpus.CorruptAbort)
	require.NoError(t, err)
	return store
}

// TestHarvester_EndToEnd verifies two pages of links, one short post dropped
// and idempotent merging across runs
func TestHarvester_EndToEnd(t *testing.T) {
	baseURL := testSite(t)
	store := createTestCorpus(t)

	h, closed := createTestHarvester(t, baseURL, store, 2, 2)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.Equal(t, 2, report.PagesScanned)
	assert.Equal(t, 6, report.LinksCollected)
	assert.Equal(t, 1, report.PostsExtracted)
	assert.Equal(t, corpus.MergeResult{Total: 1, Added: 1}, report.Merge)
	assert.Equal(t, 1, *closed)

	posts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "a1", posts[0].ID)
	assert.Equal(t, "阿里Java一面", posts[0].Title)
	assert.Equal(t, baseURL+"/feed/main/detail/a1?sourceSSR=search", posts[0].Link)
	assert.Len(t, []rune(posts[0].Content), 120)

	// A second run finds the same post and leaves the corpus as it was
	h, _ = createTestHarvester(t, baseURL, store, 2, 2)
	report, err = h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, corpus.MergeResult{Total: 1, Added: 0, Skipped: 1}, report.Merge)

	posts, err = store.Load()
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

// TestHarvester_PaginationFailureKeepsLinks verifies a page that cannot be
// advanced ends paging without failing the run
func TestHarvester_PaginationFailureKeepsLinks(t *testing.T) {
	baseURL := testSite(t)

	h, _ := createTestHarvester(t, baseURL, createTestCorpus(t), 5, 200)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.PagesScanned)
	assert.Equal(t, 6, report.LinksCollected)
	assert.Equal(t, 1, report.PostsExtracted, "only a1 has enough content")
}

// TestHarvester_SinglePage verifies no pagination happens with one page
func TestHarvester_SinglePage(t *testing.T) {
	baseURL := testSite(t)

	h, _ := createTestHarvester(t, baseURL, createTestCorpus(t), 1, 200)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PagesScanned)
	assert.Equal(t, 3, report.LinksCollected)
}

// TestHarvester_CorruptCorpus verifies a merge failure is returned and the
// browser is still closed
func TestHarvester_CorruptCorpus(t *testing.T) {
	baseURL := testSite(t)
	store := createTestCorpus(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	h, closed := createTestHarvester(t, baseURL, store, 1, 2)
	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, corpus.ErrCorruptCorpus)
	assert.Equal(t, 1, *closed)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

// TestHarvester_Canceled verifies cancellation persists nothing
func TestHarvester_Canceled(t *testing.T) {
	baseURL := testSite(t)
	store := createTestCorpus(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, closed := createTestHarvester(t, baseURL, store, 2, 2)
	_, err := h.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *closed)

	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

// TestHarvester_OpenFailure verifies opener errors are wrapped
func TestHarvester_OpenFailure(t *testing.T) {
	boom := errors.New("no chrome")
	h := NewHarvester(
		browser.OpenerFunc(func(ctx context.Context) (browser.Browser, error) { return nil, boom }),
		nil, nil, nil, nil, createTestCorpus(t), Options{}, logger.Nop(),
	)

	_, err := h.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to open browser")
}

// panicStrategy panics on links containing trigger and finds nothing
// elsewhere.
type panicStrategy struct {
	trigger string
}

func (panicStrategy) Name() string { return "panic" }

func (s panicStrategy) Content(ctx context.Context, b browser.Browser, link string) (string, error) {
	if strings.Contains(link, s.trigger) {
		panic("unexpected markup")
	}
	return "", nil
}

// TestHarvester_PanicSkipsLink verifies a panic on one post is logged and
// the remaining posts are still extracted and merged
func TestHarvester_PanicSkipsLink(t *testing.T) {
	server := serveHTML(t, map[string]string{
		"/search": `<html><body>
<a href="/feed/main/detail/p1">p1</a>
<a href="/feed/main/detail/p2">p2</a>
</body></html>`,
		"/feed/main/detail/p1": detailPage("p1_牛客网", `<article>`+strings.Repeat("坏", 120)+`</article>`),
		"/feed/main/detail/p2": detailPage("p2_牛客网", `<article>`+strings.Repeat("问了MySQL索引", 12)+`</article>`),
	})
	store := createTestCorpus(t)

	log := logger.Nop()
	links := NewLinkCollector("/feed/main/detail", "")
	details := NewDetailExtractor(DetailOptions{
		LoadAttempts:     1,
		TitleSuffix:      "_牛客网",
		Strategies:       append([]ContentStrategy{panicStrategy{trigger: "/p1"}}, ContentStrategies(testRegions, 80, 6, false)...),
		MinContentLength: 50,
	}, log)

	h := NewHarvester(
		browser.StaticOpener(browser.StaticOptions{}),
		links,
		NewPager(links, PagerOptions{Containers: []string{".pagination"}}, log),
		details,
		NewRecordBuilder(nil, 100),
		store,
		Options{SearchURL: server.URL + "/search", MaxPages: 1, TargetCount: 10},
		log,
	)

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.LinksCollected)
	assert.Equal(t, 1, report.PostsExtracted)
	assert.Equal(t, corpus.MergeResult{Total: 1, Added: 1}, report.Merge)

	posts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p2", posts[0].ID)
}
