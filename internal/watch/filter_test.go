package watch

import (
	"testing"
	"time"

	"kolwatch/internal/twitter"
)

var cycleNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func post(id string, at time.Time) twitter.Post {
	return twitter.Post{ID: id, Text: "post " + id, CreatedAt: at}
}

func ids(posts []twitter.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	lookback := time.Hour

	tests := []struct {
		name     string
		posts    []twitter.Post
		mark     Watermark
		want     []string
		wantMark string
	}{
		{
			name: "first run keeps posts within lookback",
			posts: []twitter.Post{
				post("101", cycleNow.Add(-30*time.Minute)),
				post("102", cycleNow.Add(-10*time.Minute)),
			},
			want:     []string{"101", "102"},
			wantMark: "102",
		},
		{
			name: "first run drops stale posts but still advances the mark",
			posts: []twitter.Post{
				post("90", cycleNow.Add(-3*time.Hour)),
				post("101", cycleNow.Add(-30*time.Minute)),
			},
			want:     []string{"101"},
			wantMark: "101",
		},
		{
			name: "all stale on first run advances mark with no output",
			posts: []twitter.Post{
				post("90", cycleNow.Add(-3*time.Hour)),
			},
			want:     nil,
			wantMark: "90",
		},
		{
			name: "with a mark only strictly newer posts survive",
			posts: []twitter.Post{
				post("101", cycleNow.Add(-30*time.Minute)),
				post("102", cycleNow.Add(-10*time.Minute)),
			},
			mark:     Watermark{PostID: "101", CreatedAt: cycleNow.Add(-30 * time.Minute)},
			want:     []string{"102"},
			wantMark: "102",
		},
		{
			name: "with a mark no lookback horizon applies",
			posts: []twitter.Post{
				post("100", cycleNow.Add(-5*time.Hour)),
			},
			mark:     Watermark{PostID: "50", CreatedAt: cycleNow.Add(-6 * time.Hour)},
			want:     []string{"100"},
			wantMark: "100",
		},
		{
			name: "timestamp tie broken by numeric id",
			posts: []twitter.Post{
				post("9", cycleNow.Add(-10*time.Minute)),
				post("10", cycleNow.Add(-10*time.Minute)),
			},
			mark:     Watermark{PostID: "9", CreatedAt: cycleNow.Add(-10 * time.Minute)},
			want:     []string{"10"},
			wantMark: "10",
		},
		{
			name: "both posts on a shared timestamp emit in id order",
			posts: []twitter.Post{
				post("11", cycleNow.Add(-10*time.Minute)),
				post("10", cycleNow.Add(-10*time.Minute)),
			},
			want:     []string{"10", "11"},
			wantMark: "11",
		},
		{
			name: "output sorted ascending regardless of input order",
			posts: []twitter.Post{
				post("103", cycleNow.Add(-5*time.Minute)),
				post("101", cycleNow.Add(-30*time.Minute)),
				post("102", cycleNow.Add(-10*time.Minute)),
			},
			want:     []string{"101", "102", "103"},
			wantMark: "103",
		},
		{
			name:     "no posts leaves the mark alone",
			posts:    nil,
			mark:     Watermark{PostID: "7", CreatedAt: cycleNow.Add(-time.Hour)},
			want:     nil,
			wantMark: "7",
		},
		{
			name: "older batch never moves the mark backwards",
			posts: []twitter.Post{
				post("41", cycleNow.Add(-50*time.Minute)),
			},
			mark:     Watermark{PostID: "42", CreatedAt: cycleNow.Add(-20 * time.Minute)},
			want:     nil,
			wantMark: "42",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fresh, next := Advance(tt.posts, tt.mark, lookback, cycleNow)
			if got := ids(fresh); !equalIDs(got, tt.want) {
				t.Fatalf("fresh = %v, want %v", got, tt.want)
			}
			if next.PostID != tt.wantMark {
				t.Fatalf("mark = %q, want %q", next.PostID, tt.wantMark)
			}
		})
	}
}

func TestAdvanceRerunYieldsNothing(t *testing.T) {
	t.Parallel()

	posts := []twitter.Post{
		post("101", cycleNow.Add(-30*time.Minute)),
		post("102", cycleNow.Add(-10*time.Minute)),
	}

	fresh, mark := Advance(posts, Watermark{}, time.Hour, cycleNow)
	if len(fresh) != 2 {
		t.Fatalf("first run fresh = %d, want 2", len(fresh))
	}

	again, after := Advance(posts, mark, time.Hour, cycleNow)
	if len(again) != 0 {
		t.Fatalf("rerun fresh = %v, want none", ids(again))
	}
	if after != mark {
		t.Fatalf("rerun moved the mark: %+v -> %+v", mark, after)
	}
}

func TestWatermarkCovers(t *testing.T) {
	t.Parallel()

	ts := cycleNow
	mark := Watermark{PostID: "100", CreatedAt: ts}

	tests := []struct {
		name string
		p    twitter.Post
		want bool
	}{
		{"older timestamp", post("200", ts.Add(-time.Minute)), true},
		{"newer timestamp", post("50", ts.Add(time.Minute)), false},
		{"same timestamp smaller id", post("99", ts), true},
		{"same timestamp same id", post("100", ts), true},
		{"same timestamp larger id", post("101", ts), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mark.Covers(tt.p); got != tt.want {
				t.Fatalf("Covers(%s@%s) = %v, want %v", tt.p.ID, tt.p.CreatedAt, got, tt.want)
			}
		})
	}

	if (Watermark{}).Covers(post("1", ts)) {
		t.Fatal("zero watermark must not cover anything")
	}
}

func TestIDLess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"9", "10", true},
		{"10", "9", false},
		{"100", "100", false},
		{"123", "124", true},
		{"0099", "100", true},
		{"1634567890123456789", "1634567890123456790", true},
	}

	for _, tt := range tests {
		tt := tt
		if got := idLess(tt.a, tt.b); got != tt.want {
			t.Errorf("idLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
