package watch

import (
	"sort"
	"time"

	"kolwatch/internal/twitter"
)

// Advance filters fetched posts against the handle's watermark and returns
// the fresh subset in deterministic ascending order plus the advanced mark.
//
// Rules:
//   - absent mark: posts older than now-lookback are stale and dropped;
//   - present mark: only posts strictly newer than the mark survive
//     (timestamp, then numeric id on ties);
//   - the returned mark never moves backwards, and re-running with the same
//     input yields no fresh posts.
func Advance(posts []twitter.Post, mark Watermark, lookback time.Duration, now time.Time) ([]twitter.Post, Watermark) {
	if len(posts) == 0 {
		return nil, mark
	}

	ordered := append([]twitter.Post(nil), posts...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return idLess(a.ID, b.ID)
	})

	var horizon time.Time
	if mark.IsZero() && lookback > 0 {
		horizon = now.Add(-lookback)
	}

	fresh := make([]twitter.Post, 0, len(ordered))
	next := mark
	for _, p := range ordered {
		if next.Covers(p) {
			continue
		}
		if !horizon.IsZero() && p.CreatedAt.Before(horizon) {
			// Stale for a first run; still advance the mark so the post is
			// never reconsidered.
			next = next.advanceTo(p)
			continue
		}
		fresh = append(fresh, p)
		next = next.advanceTo(p)
	}
	if len(fresh) == 0 {
		return nil, next
	}
	return fresh, next
}
