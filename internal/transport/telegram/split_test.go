package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText_ShortPassesThrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitText_PrefersNewlines(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(s, 10, "")
	if len(got) != 2 {
		t.Fatalf("chunks=%d want 2: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("unexpected chunks %q", got)
	}
}

func TestSplitText_RespectsRuneLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("✅", 25)
	for _, c := range splitText(s, 10, "") {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}

func TestSplitText_DoesNotCutInsideHTMLTag(t *testing.T) {
	t.Parallel()
	s := "abcdef<b>bold</b>"
	got := splitText(s, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("first chunk=%q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("lost text: %q", got)
	}
}
