package tgui

import "testing"

func TestBuilder_EscapesLinesButNotRaw(t *testing.T) {
	t.Parallel()
	got := New().
		Title("🔔", "A & B").
		Line("x < y").
		Blank().
		RawLine(Code("0xAB")).
		Blank().
		HTML()
	want := "🔔 <b>A &amp; B</b>\nx &lt; y\n\n<code>0xAB</code>"
	if got.String() != want {
		t.Fatalf("text=%q\nwant=%q", got, want)
	}
}

func TestShortAddr(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{in: "0x1234567890abcdef1234567890abcdef12345678", want: "0x12345678...345678"},
		{in: "0xshort", want: "0xshort"},
	}
	for _, tc := range cases {
		if got := ShortAddr(tc.in); got != tc.want {
			t.Errorf("ShortAddr(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("hi", 3); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
