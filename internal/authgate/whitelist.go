package authgate

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const exampleWhitelist = `# Email whitelist - one email/pattern per line
# Examples:
# alice@example.com
# *@example.org
`

// Whitelist matches emails against a pattern file. Lines are exact
// addresses or "*@domain" wildcards; blank lines and # comments are
// ignored. The file is re-read on every check so edits apply immediately.
type Whitelist struct {
	Path string
}

// Patterns returns the lowercased patterns. A missing file is replaced by a
// commented example and yields no patterns.
func (w Whitelist) Patterns() ([]string, error) {
	f, err := os.Open(w.Path)
	if errors.Is(err, fs.ErrNotExist) {
		if dir := filepath.Dir(w.Path); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		return nil, os.WriteFile(w.Path, []byte(exampleWhitelist), 0o644)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	return out, sc.Err()
}

func (w Whitelist) Allowed(email string) (bool, error) {
	patterns, err := w.Patterns()
	if err != nil {
		return false, err
	}
	return matchWhitelist(normalizeEmail(email), patterns), nil
}

func matchWhitelist(email string, patterns []string) bool {
	for _, p := range patterns {
		if domain, ok := strings.CutPrefix(p, "*@"); ok {
			if strings.HasSuffix(email, "@"+domain) {
				return true
			}
			continue
		}
		if email == p {
			return true
		}
	}
	return false
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
