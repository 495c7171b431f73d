package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeListPage = `<html><head><title>list</title><script>window.loaded = true;</script></head><body>
<div class="list">
  <a href="/feed/main/detail/1">First</a>
  <a href="/feed/main/detail/2" style="display:none">Hidden</a>
</div>
<article><script>var state = {"x": 1};</script><p>一面</p></article>
<div class="pagination"><span>1</span><a href="/page2"> 2 </a></div>
</body></html>`

// chromePath returns a Chrome binary or skips the test when none is
// installed.
func chromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping chrome test in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("chrome not installed")
	return ""
}

// newChromeSite serves the list page at /list and a second page at /page2.
func newChromeSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, chromeListPage)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>page2</title></head><body><p>second</p></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestChrome_QueryAndClick verifies href filtering, rendered text, scoped
// text matching, clicking and stale handles in a real browser
func TestChrome_QueryAndClick(t *testing.T) {
	execPath := chromePath(t)
	server := newChromeSite(t)

	b, err := NewChrome(ChromeOptions{Headless: true, ExecPath: execPath})
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, b.Navigate(ctx, server.URL+"/list"))

	links, err := b.Query(ctx, Query{Selector: "a", HrefContains: "/feed/main/detail", Visible: true})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, server.URL+"/feed/main/detail/1", links[0].Href)
	assert.Equal(t, "First", links[0].Text)

	articles, err := b.Query(ctx, Query{Selector: "article"})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "一面", articles[0].Text)

	pagers, err := b.Query(ctx, Query{Selector: ".pagination", Visible: true})
	require.NoError(t, err)
	require.Len(t, pagers, 1)

	two, err := b.Query(ctx, Query{Selector: "a, span", Within: &pagers[0], Text: "2"})
	require.NoError(t, err)
	require.Len(t, two, 1)
	assert.Equal(t, "a", two[0].Tag)

	require.NoError(t, b.Click(ctx, two[0]))
	assert.Eventually(t, func() bool {
		title, err := Title(ctx, b)
		return err == nil && title == "page2"
	}, 10*time.Second, 100*time.Millisecond)

	_, err = b.Query(ctx, Query{Selector: "a", Within: &pagers[0]})
	assert.ErrorIs(t, err, ErrStaleElement)
}
