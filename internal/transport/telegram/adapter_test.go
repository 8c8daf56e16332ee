package telegram

import (
	"strings"
	"testing"

	kit "kolwatch/internal/transport"
	logx "kolwatch/pkg/logx"
)

func TestParseChat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want kit.ChatTarget
	}{
		{"", kit.ChatTarget{}},
		{"   ", kit.ChatTarget{}},
		{"@alerts", kit.ChatTarget{Username: "@alerts"}},
		{"alerts", kit.ChatTarget{Username: "@alerts"}},
		{"-1001234567890", kit.ChatTarget{ChatID: -1001234567890}},
		{"42", kit.ChatTarget{ChatID: 42}},
		{" @alerts ", kit.ChatTarget{Username: "@alerts"}},
	}

	for _, tt := range tests {
		if got := ParseChat(tt.in); got != tt.want {
			t.Errorf("ParseChat(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitText(text, 100)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	if !strings.HasSuffix(got[0], "x") || !strings.HasPrefix(got[1], "y") {
		t.Fatalf("split did not land on the newline: %q", got)
	}
}

func TestSplitTextHardLimit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("z", 250)
	got := splitText(text, 100)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
