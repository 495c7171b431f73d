// Package browser defines the page automation surface the crawler drives and
// provides two implementations: Chrome, which controls a real Chrome instance
// through the DevTools protocol, and Static, which fetches pages over plain
// HTTP and answers queries from the parsed document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Custom errors for browser operations
var (
	ErrStaleElement      = errors.New("element is no longer attached to the page")
	ErrUnsupportedScript = errors.New("script is not supported by this browser")
	ErrNotClickable      = errors.New("element cannot be clicked")
	ErrNoPage            = errors.New("no page has been loaded")
)

// Well-known scripts. Every Browser implementation must support these through
// Evaluate; anything else is implementation specific.
const (
	ScriptScrollToTop    = "window.scrollTo(0, 0);"
	ScriptScrollToBottom = "window.scrollTo(0, document.body.scrollHeight);"
	ScriptTitle          = "document.title"
	ScriptPageHTML       = "document.documentElement.outerHTML"
)

// Element describes a node found by Query. Handle identifies the node for a
// later Click and is only valid until the next navigation.
type Element struct {
	Handle  string `json:"handle"`
	Tag     string `json:"tag"`
	Text    string `json:"text"`
	Href    string `json:"href"`
	Visible bool   `json:"visible"`
	HTML    string `json:"html,omitempty"`
}

// Query selects elements on the current page.
type Query struct {
	// Selector is a CSS selector. Empty means every element.
	Selector string `json:"selector"`

	// Within restricts the search to descendants of a previously returned
	// element.
	Within *Element `json:"-"`

	// HrefContains keeps only elements whose absolute href contains the
	// substring.
	HrefContains string `json:"hrefContains,omitempty"`

	// Text keeps only elements whose own text, with whitespace collapsed,
	// equals this value exactly.
	Text string `json:"text,omitempty"`

	// Visible keeps only rendered elements.
	Visible bool `json:"visible,omitempty"`

	// IncludeHTML fills Element.HTML with the outer HTML.
	IncludeHTML bool `json:"html,omitempty"`

	// Limit caps the number of results. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// Browser is a single page the crawler drives. Implementations are not safe
// for concurrent use.
type Browser interface {
	// Navigate loads url and waits until the document body is ready.
	Navigate(ctx context.Context, url string) error

	// Query returns the matching elements in document order.
	Query(ctx context.Context, q Query) ([]Element, error)

	// Click scrolls the element into view and clicks it.
	Click(ctx context.Context, el Element) error

	// Evaluate runs a script in the page and stores its JSON-compatible
	// result in out. out may be nil.
	Evaluate(ctx context.Context, script string, out any) error

	// Close releases the browser.
	Close() error
}

// Opener creates a browser for a single crawl run.
type Opener interface {
	Open(ctx context.Context) (Browser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Browser, error)

// Open calls f(ctx).
func (f OpenerFunc) Open(ctx context.Context) (Browser, error) {
	return f(ctx)
}

// ScrollToTop scrolls the window to the top of the page.
func ScrollToTop(ctx context.Context, b Browser) error {
	return b.Evaluate(ctx, ScriptScrollToTop, nil)
}

// ScrollToBottom scrolls the window to the end of the page.
func ScrollToBottom(ctx context.Context, b Browser) error {
	return b.Evaluate(ctx, ScriptScrollToBottom, nil)
}

// Title returns the document title.
func Title(ctx context.Context, b Browser) (string, error) {
	var title string
	if err := b.Evaluate(ctx, ScriptTitle, &title); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// PageHTML returns the serialized document.
func PageHTML(ctx context.Context, b Browser) (string, error) {
	var html string
	if err := b.Evaluate(ctx, ScriptPageHTML, &html); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// Truncate shortens s to at most n runes for log output.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// normalizeSpace collapses whitespace the way XPath normalize-space does.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
