// Package crawl walks paginated search results in a browser, extracts the
// linked posts and merges them into the corpus.
package crawl

import (
	"context"
	"time"
)

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
