package crawl

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pevans/harvest/corpus"
	"github.com/pevans/harvest/topic"
)

// ErrEmptyID is returned when no post id can be derived from a link.
var ErrEmptyID = errors.New("link has no post id")

// RecordBuilder turns extracted details into corpus posts.
type RecordBuilder struct {
	Tags          []string
	SummaryLength int
	Now           func() time.Time
}

// NewRecordBuilder creates a builder stamping posts with the current date.
func NewRecordBuilder(tags []string, summaryLength int) *RecordBuilder {
	return &RecordBuilder{
		Tags:          tags,
		SummaryLength: summaryLength,
		Now:           time.Now,
	}
}

// Build creates the post for d. Its tags are the configured tags followed
// by the category label.
func (r *RecordBuilder) Build(d Detail) (corpus.Post, error) {
	id := PostID(d.Link)
	if id == "" {
		return corpus.Post{}, ErrEmptyID
	}

	category := topic.Classify(d.Title, d.Content)
	tags := make([]string, 0, len(r.Tags)+1)
	tags = append(tags, r.Tags...)
	tags = append(tags, string(category))

	return corpus.Post{
		ID:         id,
		Title:      d.Title,
		Link:       d.Link,
		Category:   category,
		Summary:    Summarize(d.Content, r.SummaryLength),
		Content:    d.Content,
		Tags:       tags,
		UpdateTime: r.Now().Format(time.DateOnly),
	}, nil
}

// PostID returns the last path segment of link, ignoring a trailing slash,
// the query and the fragment.
func PostID(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}

// Summarize returns the first n runes of content followed by "...".
func Summarize(content string, n int) string {
	if n <= 0 {
		return "..."
	}
	if utf8.RuneCountInString(content) <= n {
		return content + "..."
	}
	return string([]rune(content)[:n]) + "..."
}
