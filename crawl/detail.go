package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pevans/harvest/browser"
	"github.com/pevans/harvest/logger"
	"github.com/pevans/harvest/textclean"
)

// Custom errors for detail extraction
var (
	ErrNavigation      = errors.New("detail page did not load")
	ErrContentTooShort = errors.New("detail content is too short")
)

// Detail is the text read from one post page.
type Detail struct {
	Link    string
	Title   string
	Content string
}

// ContentStrategy reads the body text of a loaded detail page. An empty
// result means the strategy found nothing and the next one should run.
type ContentStrategy interface {
	Name() string
	Content(ctx context.Context, b browser.Browser, link string) (string, error)
}

// RegionStrategy returns the longest text block among elements matching the
// selectors. Blocks shorter than MinLength runes are ignored and ties keep
// the earliest block.
type RegionStrategy struct {
	Selectors []string
	MinLength int
}

// Name implements ContentStrategy.
func (RegionStrategy) Name() string { return "region" }

// Content implements ContentStrategy.
func (s RegionStrategy) Content(ctx context.Context, b browser.Browser, link string) (string, error) {
	best, bestLen := "", 0
	for _, selector := range s.Selectors {
		blocks, err := b.Query(ctx, browser.Query{Selector: selector, Visible: true})
		if err != nil {
			return "", fmt.Errorf("failed to query %s: %w", selector, err)
		}
		for _, block := range blocks {
			text := strings.TrimSpace(block.Text)
			n := utf8.RuneCountInString(text)
			if n >= s.MinLength && n > bestLen {
				best, bestLen = text, n
			}
		}
	}
	return best, nil
}

// ParagraphStrategy joins every visible paragraph of at least MinLength
// runes with newlines.
type ParagraphStrategy struct {
	MinLength int
}

// Name implements ContentStrategy.
func (ParagraphStrategy) Name() string { return "paragraphs" }

// Content implements ContentStrategy.
func (s ParagraphStrategy) Content(ctx context.Context, b browser.Browser, link string) (string, error) {
	paragraphs, err := b.Query(ctx, browser.Query{Selector: "p", Visible: true})
	if err != nil {
		return "", fmt.Errorf("failed to query paragraphs: %w", err)
	}

	var kept []string
	for _, p := range paragraphs {
		text := strings.TrimSpace(p.Text)
		if utf8.RuneCountInString(text) >= s.MinLength {
			kept = append(kept, text)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// ReadabilityStrategy runs the readability algorithm over the serialized
// page and returns the text of the extracted article. The article HTML is
// sanitized before its text is read.
type ReadabilityStrategy struct{}

var articlePolicy = bluemonday.UGCPolicy()

// Name implements ContentStrategy.
func (ReadabilityStrategy) Name() string { return "readability" }

// Content implements ContentStrategy.
func (ReadabilityStrategy) Content(ctx context.Context, b browser.Browser, link string) (string, error) {
	page, err := browser.PageHTML(ctx, b)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse link: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(page), parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract article: %w", err)
	}

	clean := articlePolicy.Sanitize(article.Content)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	return strings.TrimSpace(doc.Text()), nil
}

// ContentStrategies builds the usual chain: regions, then paragraphs, then
// readability when enabled.
func ContentStrategies(regions []string, minBlock, minParagraph int, withReadability bool) []ContentStrategy {
	strategies := []ContentStrategy{
		RegionStrategy{Selectors: regions, MinLength: minBlock},
		ParagraphStrategy{MinLength: minParagraph},
	}
	if withReadability {
		strategies = append(strategies, ReadabilityStrategy{})
	}
	return strategies
}

// DetailOptions configures a DetailExtractor.
type DetailOptions struct {
	LoadAttempts   int
	ReadyTimeout   time.Duration
	LoadRetryDelay time.Duration
	Settle         time.Duration

	// TitleSuffix is removed from the end of the document title.
	TitleSuffix string

	// Strategies are tried in order until one returns text.
	Strategies []ContentStrategy

	MinContentLength int

	// Cleaner normalizes the chosen text. Nil uses textclean defaults.
	Cleaner *textclean.Cleaner
}

// DetailExtractor loads post pages and reads their title and body.
type DetailExtractor struct {
	opts DetailOptions
	log  *logger.Logger
}

// NewDetailExtractor creates an extractor.
func NewDetailExtractor(opts DetailOptions, log *logger.Logger) *DetailExtractor {
	if opts.LoadAttempts < 1 {
		opts.LoadAttempts = 1
	}
	if opts.Cleaner == nil {
		opts.Cleaner = textclean.NewCleaner(textclean.DefaultPhrases...)
	}

	return &DetailExtractor{
		opts: opts,
		log:  log,
	}
}

// Extract navigates to link and returns its title and normalized content.
// It returns ErrNavigation when the page never loads and ErrContentTooShort
// when the normalized content is below the minimum length.
func (e *DetailExtractor) Extract(ctx context.Context, b browser.Browser, link string) (Detail, error) {
	log := e.log.With("link", link)

	if err := e.load(ctx, b, link, log); err != nil {
		return Detail{}, err
	}
	if err := sleep(ctx, e.opts.Settle); err != nil {
		return Detail{}, err
	}

	title, err := browser.Title(ctx, b)
	if err != nil {
		return Detail{}, err
	}
	title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), e.opts.TitleSuffix))

	raw, strategy := "", ""
	for _, s := range e.opts.Strategies {
		text, err := s.Content(ctx, b, link)
		if err != nil {
			if ctx.Err() != nil {
				return Detail{}, ctx.Err()
			}
			log.Debug("content strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		if text != "" {
			raw, strategy = text, s.Name()
			break
		}
	}

	content := e.opts.Cleaner.Normalize(raw)
	if n := utf8.RuneCountInString(content); n < e.opts.MinContentLength {
		return Detail{}, fmt.Errorf("%w: %d runes", ErrContentTooShort, n)
	}

	log.Debug("extracted detail", "strategy", strategy, "runes", utf8.RuneCountInString(content))
	return Detail{
		Link:    link,
		Title:   title,
		Content: content,
	}, nil
}

// load navigates with a per-attempt ready timeout and retries failed loads.
func (e *DetailExtractor) load(ctx context.Context, b browser.Browser, link string, log *logger.Logger) error {
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx := ctx
		if e.opts.ReadyTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.opts.ReadyTimeout)
			defer cancel()
		}
		return b.Navigate(attemptCtx, link)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.LoadRetryDelay), uint64(e.opts.LoadAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Debug("detail load failed", "attempt", attempt, "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return nil
}
