package watch

import (
	"time"

	"kolwatch/internal/twitter"
)

// Watermark marks the newest post already processed for a handle.
// The zero value means "no post seen yet".
type Watermark struct {
	PostID    string
	CreatedAt time.Time
}

func (w Watermark) IsZero() bool { return w.PostID == "" && w.CreatedAt.IsZero() }

// Covers reports whether p is at or before the watermark, i.e. already
// processed. Ties on the timestamp are broken by the numeric post id.
func (w Watermark) Covers(p twitter.Post) bool {
	if w.IsZero() {
		return false
	}
	if p.CreatedAt.Before(w.CreatedAt) {
		return true
	}
	if p.CreatedAt.After(w.CreatedAt) {
		return false
	}
	return !idLess(w.PostID, p.ID)
}

// advanceTo moves the watermark forward to p if p is newer.
// The result is monotonically non-decreasing.
func (w Watermark) advanceTo(p twitter.Post) Watermark {
	if w.Covers(p) {
		return w
	}
	return Watermark{PostID: p.ID, CreatedAt: p.CreatedAt}
}

// idLess compares post ids numerically. API v2 ids are decimal strings that
// overflow int64 comfortably, so compare by length first, then lexically.
func idLess(a, b string) bool {
	a, b = trimZeros(a), trimZeros(b)
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func trimZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}
