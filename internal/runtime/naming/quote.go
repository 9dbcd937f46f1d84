package naming

import (
	"fmt"
	"strings"
)

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`*`, `\*`,
	`?`, `\?`,
	"\n", `\n`,
)

// Quote renders a name value between double quotes, escaping the characters
// that would otherwise terminate the value or act as pattern wildcards.
func Quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

// Unquote reverses Quote. Bare values are returned unchanged.
func Unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		if strings.ContainsAny(s, `"`) {
			return "", fmt.Errorf("unbalanced quote in %q", s)
		}
		return s, nil
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(inner))
	escaped := false
	for _, r := range inner {
		if escaped {
			switch r {
			case 'n':
				b.WriteRune('\n')
			case '\\', '"', '*', '?':
				b.WriteRune(r)
			default:
				return "", fmt.Errorf("invalid escape \\%c in %q", r, s)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '"' {
			return "", fmt.Errorf("unescaped quote in %q", s)
		}
		b.WriteRune(r)
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in %q", s)
	}
	return b.String(), nil
}
