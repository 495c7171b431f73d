package crawl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/cenkalti/backoff/v4"
	"github.com/pevans/harvest/browser"
	"github.com/pevans/harvest/logger"
)

// PagerState is a step of the page advancement state machine.
type PagerState int

const (
	StateIdle PagerState = iota
	StateScanning
	StateClicking
	StateConfirming
	StateAdvanced
	StateFailed
)

func (s PagerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateClicking:
		return "clicking"
	case StateConfirming:
		return "confirming"
	case StateAdvanced:
		return "advanced"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports how an Advance call ended.
type Outcome struct {
	State    PagerState
	Strategy string // name of the strategy whose click was confirmed
	Attempts int
}

var (
	errNoContainer  = errors.New("pagination container not found")
	errNoControl    = errors.New("no clickable pagination control")
	errNotConfirmed = errors.New("result links did not change after click")
)

// clickableTags are the element kinds a pagination label may sit on.
const clickableTags = "a, button, li, span"

// ClickStrategy finds the controls to click inside the pagination container
// for one fallback tier.
type ClickStrategy interface {
	Name() string
	Candidates(ctx context.Context, b browser.Browser, container browser.Element, target int) ([]browser.Element, error)
}

// PageNumberStrategy clicks the control labeled with the target page number.
type PageNumberStrategy struct{}

// Name implements ClickStrategy.
func (PageNumberStrategy) Name() string { return "page-number" }

// Candidates implements ClickStrategy.
func (PageNumberStrategy) Candidates(ctx context.Context, b browser.Browser, container browser.Element, target int) ([]browser.Element, error) {
	return labeledControls(ctx, b, container, strconv.Itoa(target))
}

// LabelStrategy clicks the control carrying a fixed label such as "下一页".
type LabelStrategy struct {
	Label string
}

// Name implements ClickStrategy.
func (s LabelStrategy) Name() string { return "label:" + s.Label }

// Candidates implements ClickStrategy.
func (s LabelStrategy) Candidates(ctx context.Context, b browser.Browser, container browser.Element, target int) ([]browser.Element, error) {
	return labeledControls(ctx, b, container, s.Label)
}

// DefaultStrategies returns the page number strategy followed by one label
// strategy per entry of labels.
func DefaultStrategies(labels ...string) []ClickStrategy {
	strategies := []ClickStrategy{PageNumberStrategy{}}
	for _, label := range labels {
		strategies = append(strategies, LabelStrategy{Label: label})
	}
	return strategies
}

// labeledControls returns the visible elements in container whose own text
// equals label. An element that is neither a link nor a button is replaced
// by its first link or button descendant when it has one.
func labeledControls(ctx context.Context, b browser.Browser, container browser.Element, label string) ([]browser.Element, error) {
	matches, err := b.Query(ctx, browser.Query{
		Selector: clickableTags,
		Within:   &container,
		Text:     label,
		Visible:  true,
	})
	if err != nil {
		return nil, err
	}

	controls := make([]browser.Element, 0, len(matches))
	for _, el := range matches {
		if el.Tag != "a" && el.Tag != "button" {
			children, err := b.Query(ctx, browser.Query{Selector: "a, button", Within: &el, Limit: 1})
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				el = children[0]
			}
		}
		controls = append(controls, el)
	}

	return controls, nil
}

// PagerOptions configures a Pager.
type PagerOptions struct {
	// Containers are CSS selectors for the pagination region, in priority
	// order.
	Containers []string

	// Strategies are tried in order inside the container. Empty means
	// DefaultStrategies("下一页", ">").
	Strategies []ClickStrategy

	MaxAttempts     int
	RetryDelay      time.Duration
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration

	// BaselineSize is how many result links are compared to detect a page
	// change.
	BaselineSize int

	// Settle is the pause after scrolling the pagination region into view.
	Settle time.Duration
}

// Pager moves the search results forward one page at a time.
type Pager struct {
	links *LinkCollector
	opts  PagerOptions
	log   *logger.Logger
}

// NewPager creates a pager that uses links to observe page changes.
func NewPager(links *LinkCollector, opts PagerOptions, log *logger.Logger) *Pager {
	// Fill unset strategies, baseline and polling interval
	_ = mergo.Merge(&opts, PagerOptions{
		Strategies:      DefaultStrategies("下一页", ">"),
		BaselineSize:    6,
		ConfirmInterval: 500 * time.Millisecond,
	})
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaselineSize < 1 {
		opts.BaselineSize = 6
	}

	return &Pager{
		links: links,
		opts:  opts,
		log:   log,
	}
}

// Advance clicks through to page target and waits for the result list to
// change. A returned Outcome in StateFailed is not an error; errors are only
// returned when ctx ends.
func (p *Pager) Advance(ctx context.Context, b browser.Browser, target int) (Outcome, error) {
	log := p.log.With("target_page", target)
	out := Outcome{State: StateIdle}

	baseline, err := p.links.Collect(ctx, b, p.opts.BaselineSize)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.Debug("could not snapshot result links", "error", err)
	}

	operation := func() error {
		out.Attempts++

		// A slow render from the previous attempt may already have moved
		// the page; clicking again would skip one.
		if out.Attempts > 1 && p.changed(ctx, b, baseline) {
			out.Strategy = "late-render"
			p.transition(log, &out, StateAdvanced)
			return nil
		}

		p.transition(log, &out, StateScanning)
		if err := browser.ScrollToBottom(ctx, b); err != nil {
			return err
		}
		if err := sleep(ctx, p.opts.Settle); err != nil {
			return backoff.Permanent(err)
		}

		if _, err := p.locate(ctx, b); err != nil {
			if errors.Is(err, errNoContainer) {
				return backoff.Permanent(err)
			}
			return err
		}

		p.transition(log, &out, StateClicking)
		strategy, err := p.click(ctx, b, target)
		if err != nil {
			return err
		}
		out.Strategy = strategy

		p.transition(log, &out, StateConfirming)
		if p.confirm(ctx, b, baseline) {
			p.transition(log, &out, StateAdvanced)
			return nil
		}
		return errNotConfirmed
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.opts.RetryDelay), uint64(p.opts.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Info("page advance attempt failed", "attempt", out.Attempts, "error", err, "retry_in", wait)
	}

	err = backoff.RetryNotify(operation, policy, notify)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if err != nil {
		p.diagnose(ctx, b, log)
		log.Warn("could not advance page", "attempts", out.Attempts, "error", err)
		p.transition(log, &out, StateFailed)
		return out, nil
	}

	log.Info("advanced page", "strategy", out.Strategy, "attempts", out.Attempts)
	return out, nil
}

func (p *Pager) transition(log *logger.Logger, out *Outcome, next PagerState) {
	log.Debug("pager state", "from", out.State, "to", next)
	out.State = next
}

// locate returns the first visible pagination container.
func (p *Pager) locate(ctx context.Context, b browser.Browser) (browser.Element, error) {
	for _, selector := range p.opts.Containers {
		found, err := b.Query(ctx, browser.Query{Selector: selector, Visible: true, Limit: 1})
		if err != nil {
			return browser.Element{}, fmt.Errorf("failed to query %s: %w", selector, err)
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	return browser.Element{}, errNoContainer
}

// click runs the strategies in order, re-locating the container before each
// one, and returns the name of the first strategy whose click went through.
func (p *Pager) click(ctx context.Context, b browser.Browser, target int) (string, error) {
	var lastErr error
	for _, strategy := range p.opts.Strategies {
		container, err := p.locate(ctx, b)
		if err != nil {
			lastErr = err
			continue
		}

		controls, err := strategy.Candidates(ctx, b, container, target)
		if err != nil {
			lastErr = err
			continue
		}

		for _, control := range controls {
			if err := b.Click(ctx, control); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				lastErr = err
				continue
			}
			return strategy.Name(), nil
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", errNoControl, lastErr)
	}
	return "", errNoControl
}

// confirm polls the result links until they differ from baseline or the
// confirmation window closes.
func (p *Pager) confirm(ctx context.Context, b browser.Browser, baseline []string) bool {
	deadline := time.Now().Add(p.opts.ConfirmTimeout)
	for {
		if err := sleep(ctx, p.opts.ConfirmInterval); err != nil {
			return false
		}
		if p.changed(ctx, b, baseline) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}

// changed reports whether the current result links are non-empty and differ
// from baseline.
func (p *Pager) changed(ctx context.Context, b browser.Browser, baseline []string) bool {
	limit := len(baseline)
	if limit == 0 {
		limit = p.opts.BaselineSize
	}
	current, err := p.links.Collect(ctx, b, limit)
	if err != nil {
		return false
	}
	return len(current) > 0 && !slices.Equal(current, baseline)
}

// diagnose logs a truncated copy of the pagination markup.
func (p *Pager) diagnose(ctx context.Context, b browser.Browser, log *logger.Logger) {
	for _, selector := range p.opts.Containers {
		found, err := b.Query(ctx, browser.Query{Selector: selector, Visible: true, Limit: 1, IncludeHTML: true})
		if err != nil || len(found) == 0 {
			continue
		}
		log.Debug("pagination markup", "selector", selector, "html", browser.Truncate(found[0].HTML, 400))
		return
	}
}
