package tgui

import "strings"

// Builder assembles an HTML message line by line. Line escapes its input;
// RawLine takes already-safe HTML.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds "emoji <b>title</b>".
func (b *Builder) Title(emoji, title string) *Builder {
	t := BH(Esc(strings.TrimSpace(title)))
	if e := strings.TrimSpace(emoji); e != "" {
		t = H(e + " " + t.String())
	}
	b.lines = append(b.lines, t.String())
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Bullets adds "• item" lines, skipping blank items.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// HTML returns the joined lines without surrounding blank lines.
func (b *Builder) HTML() H {
	return H(strings.Trim(strings.Join(b.lines, "\n"), "\n"))
}
