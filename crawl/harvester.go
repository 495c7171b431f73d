package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pevans/harvest/browser"
	"github.com/pevans/harvest/corpus"
	"github.com/pevans/harvest/logger"
)

var errExtractPanic = errors.New("panic during extraction")

// Merger persists a batch of posts.
type Merger interface {
	Merge(posts []corpus.Post) (corpus.MergeResult, error)
}

// Options configures a Harvester run.
type Options struct {
	// RunID tags log lines and the report. A zero value gets a new UUID.
	RunID uuid.UUID

	SearchURL   string
	MaxPages    int
	TargetCount int

	// LoginWait leaves time to sign in by hand after the search page opens.
	LoginWait time.Duration

	// PopupCloseSelector matches a dismiss button that is clicked once after
	// the login wait. Empty skips it.
	PopupCloseSelector string

	TopSettle    time.Duration
	BottomSettle time.Duration

	// NavigateInterval is the minimum spacing between detail page loads.
	// Zero disables pacing.
	NavigateInterval time.Duration
}

// Report summarizes a run.
type Report struct {
	RunID          uuid.UUID
	PagesScanned   int
	LinksCollected int
	PostsExtracted int
	Merge          corpus.MergeResult
}

// Harvester runs one crawl: page through the search results, extract every
// collected post and merge the batch into the corpus.
type Harvester struct {
	opener  browser.Opener
	links   *LinkCollector
	pager   *Pager
	details *DetailExtractor
	records *RecordBuilder
	store   Merger
	opts    Options
	log     *logger.Logger
}

// NewHarvester wires a harvester from its parts.
func NewHarvester(
	opener browser.Opener,
	links *LinkCollector,
	pager *Pager,
	details *DetailExtractor,
	records *RecordBuilder,
	store Merger,
	opts Options,
	log *logger.Logger,
) *Harvester {
	return &Harvester{
		opener:  opener,
		links:   links,
		pager:   pager,
		details: details,
		records: records,
		store:   store,
		opts:    opts,
		log:     log,
	}
}

// Run executes the crawl. Nothing is written when it fails before the merge.
func (h *Harvester) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: h.opts.RunID}
	if report.RunID == uuid.Nil {
		report.RunID = uuid.New()
	}
	log := h.log.With("run_id", report.RunID.String())

	b, err := h.opener.Open(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to open browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("failed to close browser", "error", err)
		}
	}()

	if err := h.openSearch(ctx, b, log); err != nil {
		return report, err
	}

	collected, pages, err := h.scan(ctx, b, log)
	report.PagesScanned = pages
	report.LinksCollected = collected.Len()
	if err != nil {
		return report, err
	}

	posts, err := h.extract(ctx, b, collected.Take(h.opts.TargetCount), log)
	report.PostsExtracted = len(posts)
	if err != nil {
		return report, err
	}

	result, err := h.store.Merge(posts)
	report.Merge = result
	if err != nil {
		return report, fmt.Errorf("failed to merge corpus: %w", err)
	}

	log.Info("run complete",
		"pages", report.PagesScanned,
		"links", report.LinksCollected,
		"extracted", report.PostsExtracted,
		"added", result.Added,
		"total", result.Total,
	)
	return report, nil
}

// openSearch loads the search page, waits for a manual login and dismisses
// the first popup it can find.
func (h *Harvester) openSearch(ctx context.Context, b browser.Browser, log *logger.Logger) error {
	log.Info("opening search page", "url", h.opts.SearchURL)
	if err := b.Navigate(ctx, h.opts.SearchURL); err != nil {
		return fmt.Errorf("failed to open search page: %w", err)
	}

	if h.opts.LoginWait > 0 {
		log.Info("waiting for login", "wait", h.opts.LoginWait)
	}
	if err := sleep(ctx, h.opts.LoginWait); err != nil {
		return err
	}

	if h.opts.PopupCloseSelector == "" {
		return nil
	}
	buttons, err := b.Query(ctx, browser.Query{Selector: h.opts.PopupCloseSelector, Visible: true, Limit: 1})
	if err != nil || len(buttons) == 0 {
		return ctx.Err()
	}
	if err := b.Click(ctx, buttons[0]); err != nil {
		log.Debug("popup not dismissed", "error", err)
	}
	return ctx.Err()
}

// scan reads every results page up to MaxPages and returns the links found
// and the number of pages read.
func (h *Harvester) scan(ctx context.Context, b browser.Browser, log *logger.Logger) (*LinkSet, int, error) {
	collected := NewLinkSet()
	pages := 0

	for page := 1; page <= h.opts.MaxPages; page++ {
		pageLog := log.With("page", page)

		if err := h.revealResults(ctx, b); err != nil {
			if ctx.Err() != nil {
				return collected, pages, ctx.Err()
			}
			pageLog.Warn("failed to scroll results", "error", err)
		}

		links, err := h.links.Collect(ctx, b, 0)
		if err != nil {
			if ctx.Err() != nil {
				return collected, pages, ctx.Err()
			}
			pageLog.Warn("failed to collect links", "error", err)
		}
		pages++
		added := collected.Add(links...)
		pageLog.Info("collected links", "new", added, "total", collected.Len())

		if page == h.opts.MaxPages {
			break
		}

		outcome, err := h.pager.Advance(ctx, b, page+1)
		if err != nil {
			return collected, pages, err
		}
		if outcome.State == StateFailed {
			pageLog.Warn("stopping pagination", "attempts", outcome.Attempts)
			break
		}
	}

	return collected, pages, nil
}

// revealResults scrolls to the top and then the bottom of the page so lazy
// result cards render.
func (h *Harvester) revealResults(ctx context.Context, b browser.Browser) error {
	if err := browser.ScrollToTop(ctx, b); err != nil {
		return err
	}
	if err := sleep(ctx, h.opts.TopSettle); err != nil {
		return err
	}
	if err := browser.ScrollToBottom(ctx, b); err != nil {
		return err
	}
	return sleep(ctx, h.opts.BottomSettle)
}

// extract loads each link and builds its post. Links that fail are skipped.
func (h *Harvester) extract(ctx context.Context, b browser.Browser, links []string, log *logger.Logger) ([]corpus.Post, error) {
	limit := rate.Inf
	if h.opts.NavigateInterval > 0 {
		limit = rate.Every(h.opts.NavigateInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	posts := []corpus.Post{}
	for i, link := range links {
		if err := limiter.Wait(ctx); err != nil {
			return posts, err
		}

		linkLog := log.With("link", link)
		post, err := h.extractOne(ctx, b, link)
		switch {
		case ctx.Err() != nil:
			return posts, ctx.Err()
		case errors.Is(err, ErrContentTooShort):
			linkLog.Debug("skipping short post", "error", err)
			continue
		case errors.Is(err, ErrNavigation):
			linkLog.Warn("skipping unreachable post", "error", err)
			continue
		case err != nil:
			linkLog.Warn("skipping post", "error", err)
			continue
		}
		posts = append(posts, post)
		linkLog.Info("extracted post", "index", i+1, "of", len(links), "category", post.Category)
	}

	return posts, nil
}

// extractOne reads one link and builds its post. A panic while handling the
// page is returned as an error so the remaining links still run.
func (h *Harvester) extractOne(ctx context.Context, b browser.Browser, link string) (post corpus.Post, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errExtractPanic, r)
		}
	}()

	detail, err := h.details.Extract(ctx, b, link)
	if err != nil {
		return corpus.Post{}, err
	}
	return h.records.Build(detail)
}
