// Package textclean strips invisible characters and site boilerplate from
// scraped text and collapses whitespace.
package textclean

import (
	"regexp"
	"strings"
)

// DefaultPhrases are the boilerplate phrases removed by Normalize. Matching is
// case-insensitive.
var DefaultPhrases = []string{"扫码下载牛客APP"}

// zeroWidth lists the invisible code points removed before anything else.
var zeroWidth = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

// uploadCounter matches the image upload widget text, e.g.
// "共 3 张，最多还能上传 6 张".
var uploadCounter = regexp.MustCompile(`共\s*\d+\s*张，最多还能上传\s*\d+\s*张`)

// Cleaner normalizes scraped text. The zero value removes no phrases; use
// NewCleaner to build one.
type Cleaner struct {
	phrases []*regexp.Regexp
}

// NewCleaner creates a cleaner that removes the given boilerplate phrases in
// addition to the zero-width characters and upload counters.
func NewCleaner(phrases ...string) *Cleaner {
	c := &Cleaner{}
	for _, phrase := range phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		c.phrases = append(c.phrases, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(phrase)))
	}
	return c
}

var defaultCleaner = NewCleaner(DefaultPhrases...)

// Normalize cleans raw text with the default phrase list.
func Normalize(raw string) string {
	return defaultCleaner.Normalize(raw)
}

// Normalize removes zero-width characters, boilerplate phrases and upload
// counters, then collapses whitespace runs to a single space and trims the
// ends. Removal repeats until nothing changes, so the result is stable under
// a second pass.
func (c *Cleaner) Normalize(raw string) string {
	text := raw
	for {
		next := c.strip(text)
		if next == text {
			break
		}
		text = next
	}

	// Normalize whitespace: replace multiple spaces/newlines with single space
	return strings.Join(strings.Fields(text), " ")
}

// strip runs one removal pass. Whitespace is collapsed inside the pass so an
// upload counter spaced with non-ASCII blanks matches on the next iteration.
func (c *Cleaner) strip(text string) string {
	text = zeroWidth.Replace(text)
	for _, re := range c.phrases {
		text = re.ReplaceAllString(text, "")
	}
	text = uploadCounter.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
