package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/harvest/browser"
)

// serveHTML starts a server that answers each path in pages with its HTML.
func serveHTML(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	for path, body := range pages {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		})
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// openStatic navigates a new Static browser to url.
func openStatic(t *testing.T, url string) browser.Browser {
	t.Helper()
	b := browser.NewStatic(browser.StaticOptions{})
	require.NoError(t, b.Navigate(context.Background(), url))
	t.Cleanup(func() { b.Close() })
	return b
}

// TestLinkCollector_Primary verifies primary matches are returned in
// document order without duplicates
func TestLinkCollector_Primary(t *testing.T) {
	server := serveHTML(t, map[string]string{"/search": `<html><body>
<a href="/feed/main/detail/1">one</a>
<a href="/discuss/7">discuss</a>
<a href="/feed/main/detail/2">two</a>
<a href="/feed/main/detail/1">one again</a>
</body></html>`})
	b := openStatic(t, server.URL+"/search")

	links, err := NewLinkCollector("/feed/main/detail", "/discuss/").Collect(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		server.URL + "/feed/main/detail/1",
		server.URL + "/feed/main/detail/2",
	}, links)
}

// TestLinkCollector_Fallback verifies the fallback pattern is used only when
// the primary pattern matches nothing
func TestLinkCollector_Fallback(t *testing.T) {
	server := serveHTML(t, map[string]string{"/search": `<html><body>
<a href="/discuss/7">seven</a>
<a href="/discuss/8">eight</a>
</body></html>`})
	b := openStatic(t, server.URL+"/search")

	links, err := NewLinkCollector("/feed/main/detail", "/discuss/").Collect(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/discuss/7", server.URL + "/discuss/8"}, links)
}

// TestLinkCollector_Limit verifies the cap
func TestLinkCollector_Limit(t *testing.T) {
	server := serveHTML(t, map[string]string{"/search": `<html><body>
<a href="/feed/main/detail/1">1</a>
<a href="/feed/main/detail/2">2</a>
<a href="/feed/main/detail/3">3</a>
</body></html>`})
	b := openStatic(t, server.URL+"/search")

	links, err := NewLinkCollector("/feed/main/detail", "").Collect(context.Background(), b, 2)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

// TestLinkCollector_Empty verifies a page without matches yields no links
// and no error
func TestLinkCollector_Empty(t *testing.T) {
	server := serveHTML(t, map[string]string{"/search": `<html><body><a href="/about">about</a></body></html>`})
	b := openStatic(t, server.URL+"/search")

	links, err := NewLinkCollector("/feed/main/detail", "/discuss/").Collect(context.Background(), b, 0)
	require.NoError(t, err)
	assert.Empty(t, links)
}

// TestLinkSet verifies first-seen order and de-duplication across adds
func TestLinkSet(t *testing.T) {
	set := NewLinkSet()

	assert.Equal(t, 2, set.Add("a", "b"))
	assert.Equal(t, 1, set.Add("b", "c", "c"))
	assert.Equal(t, 3, set.Len())

	assert.Equal(t, []string{"a", "b", "c"}, set.Take(0))
	assert.Equal(t, []string{"a", "b"}, set.Take(2))
	assert.Equal(t, []string{"a", "b", "c"}, set.Take(10))

	taken := set.Take(1)
	taken[0] = "changed"
	assert.Equal(t, []string{"a"}, set.Take(1), "Take must return a copy")
}
