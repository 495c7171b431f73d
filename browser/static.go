package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// StaticOptions configures the HTTP client used by Static.
type StaticOptions struct {
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Static is a Browser backed by plain HTTP requests and goquery. It does not
// run page scripts: clicks follow the href of the element or of its nearest
// enclosing link, and only the well-known scripts can be evaluated.
type Static struct {
	client    *http.Client
	userAgent string

	doc        *goquery.Document
	pageURL    *url.URL
	generation int
	handles    map[string]*html.Node
	nodes      map[*html.Node]string
}

// NewStatic creates a static browser.
func NewStatic(opts StaticOptions) *Static {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "harvest/1.0"
	}

	return &Static{
		client:    client,
		userAgent: userAgent,
		handles:   make(map[string]*html.Node),
		nodes:     make(map[*html.Node]string),
	}
}

// StaticOpener returns an Opener that creates a fresh Static per run.
func StaticOpener(opts StaticOptions) Opener {
	return OpenerFunc(func(ctx context.Context) (Browser, error) {
		return NewStatic(opts), nil
	})
}

// Navigate implements Browser.
func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if s.pageURL != nil {
		target = s.pageURL.ResolveReference(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}
	if doc.Find("body").Length() == 0 {
		return fmt.Errorf("page has no body: %s", target)
	}

	s.doc = doc
	s.pageURL = resp.Request.URL
	s.generation++
	clear(s.handles)
	clear(s.nodes)
	return nil
}

// Query implements Browser.
func (s *Static) Query(ctx context.Context, q Query) ([]Element, error) {
	if s.doc == nil {
		return nil, ErrNoPage
	}

	root := s.doc.Selection
	if q.Within != nil {
		node, ok := s.handles[q.Within.Handle]
		if !ok {
			return nil, ErrStaleElement
		}
		root = s.doc.FindNodes(node)
	}

	selector := q.Selector
	if selector == "" {
		selector = "*"
	}

	var elements []Element
	var queryErr error
	root.Find(selector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if err := ctx.Err(); err != nil {
			queryErr = err
			return false
		}

		href := s.resolveHref(sel)
		if q.HrefContains != "" && !strings.Contains(href, q.HrefContains) {
			return true
		}
		visible := isVisible(sel)
		if q.Visible && !visible {
			return true
		}
		if q.Text != "" && normalizeSpace(ownText(sel)) != q.Text {
			return true
		}

		el := Element{
			Handle:  s.handleFor(sel.Get(0)),
			Tag:     goquery.NodeName(sel),
			Text:    strings.TrimSpace(renderedText(sel.Get(0))),
			Href:    href,
			Visible: visible,
		}
		if q.IncludeHTML {
			el.HTML, _ = goquery.OuterHtml(sel)
		}
		elements = append(elements, el)

		return q.Limit == 0 || len(elements) < q.Limit
	})
	if queryErr != nil {
		return nil, queryErr
	}

	return elements, nil
}

// Click implements Browser by navigating to the element's link target.
func (s *Static) Click(ctx context.Context, el Element) error {
	node, ok := s.handles[el.Handle]
	if !ok {
		return ErrStaleElement
	}

	sel := s.doc.FindNodes(node)
	href := s.resolveHref(sel)
	if href == "" {
		href = s.resolveHref(sel.Closest("a[href]"))
	}
	if href == "" {
		return fmt.Errorf("%s has no link target: %w", el.Tag, ErrNotClickable)
	}

	return s.Navigate(ctx, href)
}

// Evaluate implements Browser for the well-known scripts.
func (s *Static) Evaluate(ctx context.Context, script string, out any) error {
	switch script {
	case ScriptScrollToTop, ScriptScrollToBottom:
		return nil
	case ScriptTitle:
		if s.doc == nil {
			return ErrNoPage
		}
		return assign(out, strings.TrimSpace(s.doc.Find("title").First().Text()))
	case ScriptPageHTML:
		if s.doc == nil {
			return ErrNoPage
		}
		page, err := s.doc.Html()
		if err != nil {
			return fmt.Errorf("failed to render page: %w", err)
		}
		return assign(out, page)
	default:
		return ErrUnsupportedScript
	}
}

// Close implements Browser.
func (s *Static) Close() error {
	s.client.CloseIdleConnections()
	s.doc = nil
	clear(s.handles)
	clear(s.nodes)
	return nil
}

// handleFor returns the handle for node, assigning one if needed.
func (s *Static) handleFor(node *html.Node) string {
	if handle, ok := s.nodes[node]; ok {
		return handle
	}
	handle := strconv.Itoa(s.generation) + "-" + strconv.Itoa(len(s.handles)+1)
	s.handles[handle] = node
	s.nodes[node] = handle
	return handle
}

// resolveHref returns the absolute href of the first element in sel, or ""
// when it has none.
func (s *Static) resolveHref(sel *goquery.Selection) string {
	raw, ok := sel.Attr("href")
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "javascript:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if s.pageURL == nil {
		return ref.String()
	}
	return s.pageURL.ResolveReference(ref).String()
}

// ownText concatenates the text nodes that are direct children of the first
// element in sel.
func ownText(sel *goquery.Selection) string {
	node := sel.Get(0)
	var b strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// isVisible approximates rendering: an element is hidden when it or an
// ancestor carries the hidden attribute or an inline display:none or
// visibility:hidden style.
func isVisible(sel *goquery.Selection) bool {
	for node := sel.Get(0); node != nil; node = node.Parent {
		if isHidden(node) {
			return false
		}
	}
	return true
}

// isHidden reports whether node itself is never rendered.
func isHidden(node *html.Node) bool {
	if node.Type != html.ElementNode {
		return false
	}
	switch node.Data {
	case "head", "script", "style", "template", "noscript":
		return true
	}
	for _, attr := range node.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "type":
			if node.Data == "input" && strings.EqualFold(attr.Val, "hidden") {
				return true
			}
		case "style":
			style := strings.ToLower(strings.Join(strings.Fields(attr.Val), ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// renderedText approximates innerText: the text of node's descendants
// without script bodies or hidden subtrees.
func renderedText(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				b.WriteString(c.Data)
			case c.Type == html.ElementNode && c.Data == "br":
				b.WriteString("\n")
			case c.Type == html.ElementNode && !isHidden(c):
				walk(c)
			}
		}
	}
	walk(node)
	return b.String()
}

// assign stores v in out through a JSON round trip, mirroring how script
// results are decoded by the Chrome driver.
func assign(out any, v any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
