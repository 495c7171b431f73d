package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/pevans/harvest/browser"
)

// LinkCollector reads result links from the current search results page.
type LinkCollector struct {
	primary  string
	fallback string
}

// NewLinkCollector creates a collector that matches anchors whose href
// contains primary, or fallback when the page has no primary matches.
func NewLinkCollector(primary, fallback string) *LinkCollector {
	return &LinkCollector{
		primary:  primary,
		fallback: fallback,
	}
}

// Collect returns the absolute result URLs on the current page in document
// order without duplicates. A positive limit caps the result.
func (c *LinkCollector) Collect(ctx context.Context, b browser.Browser, limit int) ([]string, error) {
	links, err := c.match(ctx, b, c.primary, limit)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 && c.fallback != "" {
		links, err = c.match(ctx, b, c.fallback, limit)
		if err != nil {
			return nil, err
		}
	}
	return links, nil
}

func (c *LinkCollector) match(ctx context.Context, b browser.Browser, pattern string, limit int) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}

	anchors, err := b.Query(ctx, browser.Query{Selector: "a", HrefContains: pattern})
	if err != nil {
		return nil, fmt.Errorf("failed to query result links: %w", err)
	}

	seen := make(map[string]bool, len(anchors))
	links := []string{}
	for _, a := range anchors {
		href := strings.TrimSpace(a.Href)
		if href == "" || seen[href] {
			continue
		}
		seen[href] = true
		links = append(links, href)
		if limit > 0 && len(links) >= limit {
			break
		}
	}

	return links, nil
}

// LinkSet is the running set of result links gathered across pages. It
// remembers first-seen order.
type LinkSet struct {
	order []string
	seen  map[string]struct{}
}

// NewLinkSet creates an empty set.
func NewLinkSet() *LinkSet {
	return &LinkSet{seen: make(map[string]struct{})}
}

// Add inserts links and returns how many were new.
func (s *LinkSet) Add(links ...string) int {
	added := 0
	for _, link := range links {
		if _, ok := s.seen[link]; ok {
			continue
		}
		s.seen[link] = struct{}{}
		s.order = append(s.order, link)
		added++
	}
	return added
}

// Len returns the number of distinct links.
func (s *LinkSet) Len() int {
	return len(s.order)
}

// Take returns up to n links in first-seen order. A non-positive n returns
// every link.
func (s *LinkSet) Take(n int) []string {
	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	out := make([]string, n)
	copy(out, s.order[:n])
	return out
}
