package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the Chrome process.
type ChromeOptions struct {
	Headless     bool
	ExecPath     string
	UserDataDir  string
	UserAgent    string
	WindowWidth  int
	WindowHeight int

	// ClickDelay is the pause between scrolling an element into view and
	// clicking it.
	ClickDelay time.Duration
}

// DefaultChromeOptions returns options for a visible browser window so the
// operator can complete the login flow.
func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Headless:     false,
		WindowWidth:  1366,
		WindowHeight: 900,
		ClickDelay:   200 * time.Millisecond,
	}
}

// BuildChromeOptions converts options into chromedp allocator flags.
func BuildChromeOptions(opts ChromeOptions) []chromedp.ExecAllocatorOption {
	chromeOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
	)

	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		chromeOpts = append(chromeOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.UserAgent != "" {
		chromeOpts = append(chromeOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.UserDataDir != "" {
		// A persistent profile keeps the login session between runs
		chromeOpts = append(chromeOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecPath != "" {
		chromeOpts = append(chromeOpts, chromedp.ExecPath(opts.ExecPath))
	}

	return chromeOpts
}

// Chrome drives a single Chrome tab.
type Chrome struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	clickDelay  time.Duration
}

// NewChrome launches Chrome and opens a tab.
func NewChrome(opts ChromeOptions) (*Chrome, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), BuildChromeOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &Chrome{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		clickDelay:  opts.ClickDelay,
	}, nil
}

// ChromeOpener returns an Opener that launches a new Chrome per run.
func ChromeOpener(opts ChromeOptions) Opener {
	return OpenerFunc(func(ctx context.Context) (Browser, error) {
		return NewChrome(opts)
	})
}

// run executes actions on the tab while honoring cancellation and deadlines
// of the caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate implements Browser.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	err := c.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// queryResult is the value returned by queryScript.
type queryResult struct {
	Stale    bool      `json:"stale"`
	Elements []Element `json:"elements"`
}

// queryScript finds elements and tags each with a handle attribute. Handles
// carry a per-document token so a handle from a previous page never matches.
const queryScript = `(function(q) {
	if (!window.__harvestDoc) {
		window.__harvestDoc = Math.random().toString(36).slice(2);
		window.__harvestSeq = 0;
	}
	var root = document;
	if (q.within) {
		root = document.querySelector('[data-harvest-handle="' + q.within + '"]');
		if (!root) return {stale: true, elements: []};
	}
	var norm = function(s) { return (s || '').replace(/\s+/g, ' ').trim(); };
	var nodes = root.querySelectorAll(q.selector || '*');
	var out = [];
	for (var i = 0; i < nodes.length; i++) {
		var el = nodes[i];
		var href = el.href ? String(el.href) : (el.getAttribute('href') || '');
		if (q.hrefContains && href.indexOf(q.hrefContains) < 0) continue;
		var visible = !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
		if (q.visible && !visible) continue;
		if (q.text) {
			var own = '';
			for (var j = 0; j < el.childNodes.length; j++) {
				if (el.childNodes[j].nodeType === 3) own += el.childNodes[j].nodeValue;
			}
			if (norm(own) !== q.text) continue;
		}
		if (!el.getAttribute('data-harvest-handle')) {
			window.__harvestSeq++;
			el.setAttribute('data-harvest-handle', window.__harvestDoc + '-' + window.__harvestSeq);
		}
		out.push({
			handle: el.getAttribute('data-harvest-handle'),
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || '').trim(),
			href: href,
			visible: visible,
			html: q.html ? el.outerHTML : ''
		});
		if (q.limit && out.length >= q.limit) break;
	}
	return {stale: false, elements: out};
})(%s)`

// chromeQuery is the JSON form of Query handed to queryScript.
type chromeQuery struct {
	Query
	Within string `json:"within,omitempty"`
}

// Query implements Browser.
func (c *Chrome) Query(ctx context.Context, q Query) ([]Element, error) {
	payload := chromeQuery{Query: q}
	if q.Within != nil {
		payload.Within = q.Within.Handle
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var result queryResult
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(queryScript, data), &result)); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", q.Selector, err)
	}
	if result.Stale {
		return nil, ErrStaleElement
	}
	return result.Elements, nil
}

const scrollIntoViewScript = `(function(h) {
	var el = document.querySelector('[data-harvest-handle="' + h + '"]');
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	return true;
})(%q)`

const clickScript = `(function(h) {
	var el = document.querySelector('[data-harvest-handle="' + h + '"]');
	if (!el) return false;
	el.click();
	return true;
})(%q)`

// Click implements Browser. The click is dispatched from script so overlays
// covering the element do not intercept it.
func (c *Chrome) Click(ctx context.Context, el Element) error {
	var scrolled, clicked bool
	err := c.run(ctx,
		chromedp.Evaluate(fmt.Sprintf(scrollIntoViewScript, el.Handle), &scrolled),
		chromedp.Sleep(c.clickDelay),
		chromedp.Evaluate(fmt.Sprintf(clickScript, el.Handle), &clicked),
	)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", el.Tag, err)
	}
	if !scrolled || !clicked {
		return ErrStaleElement
	}
	return nil
}

// Evaluate implements Browser.
func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	if err := c.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// Close shuts down the tab and the browser process.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.tabCtx)
	c.tabCancel()
	c.allocCancel()
	return err
}
