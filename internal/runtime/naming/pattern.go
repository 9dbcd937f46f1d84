package naming

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
)

// Pattern selects object names. Each field is a glob using * and ?; an
// empty field matches anything.
type Pattern struct {
	Domain  string
	Context string
	Type    string
	Name    string
}

// ParsePattern accepts the object name syntax with wildcards, for example
// "flowscope:type=endpoints,*" or "*:context=ctx,type=processors,name=\"b*\"".
// Omitted properties and a trailing ",*" match any value.
func ParsePattern(s string) (Pattern, error) {
	domain, props, ok := strings.Cut(s, ":")
	if !ok || domain == "" {
		return Pattern{}, fmt.Errorf("%w: pattern %q", errspkg.ErrInvalidObjectName, s)
	}
	p := Pattern{Domain: domain}
	switch {
	case props == "*":
		props = ""
	case strings.HasSuffix(props, ",*"):
		props = strings.TrimSuffix(props, ",*")
	}
	values, err := splitProperties(props)
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: pattern %q: %v", errspkg.ErrInvalidObjectName, s, err)
	}
	for _, kv := range values {
		switch kv.key {
		case "context":
			p.Context = kv.value
		case "type":
			p.Type = kv.value
		case "name":
			p.Name = stripQuotes(kv.value)
		default:
			return Pattern{}, fmt.Errorf("%w: unknown key %q in pattern %q", errspkg.ErrInvalidObjectName, kv.key, s)
		}
	}
	return p, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Matches reports whether on is selected by the pattern.
func (p Pattern) Matches(on ObjectName) bool {
	return matchField(p.Domain, on.Domain) &&
		matchField(p.Context, on.Context) &&
		matchField(p.Type, on.Type) &&
		matchField(p.Name, on.Name)
}

func (p Pattern) String() string {
	var parts []string
	if p.Context != "" {
		parts = append(parts, "context="+p.Context)
	}
	if p.Type != "" {
		parts = append(parts, "type="+p.Type)
	}
	if p.Name != "" {
		parts = append(parts, `name="`+p.Name+`"`)
	}
	parts = append(parts, "*")
	return p.Domain + ":" + strings.Join(parts, ",")
}

func matchField(glob, value string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	return Wildcard(glob, value)
}

// Wildcard matches value against a glob where * spans any run of characters
// (slashes included, unlike path.Match) and ? matches exactly one.
func Wildcard(glob, value string) bool {
	g, v := []rune(glob), []rune(value)
	gi, vi := 0, 0
	star, mark := -1, 0
	for vi < len(v) {
		switch {
		case gi < len(g) && (g[gi] == '?' || g[gi] == v[vi]):
			gi++
			vi++
		case gi < len(g) && g[gi] == '*':
			star = gi
			mark = vi
			gi++
		case star >= 0:
			gi = star + 1
			mark++
			vi = mark
		default:
			return false
		}
	}
	for gi < len(g) && g[gi] == '*' {
		gi++
	}
	return gi == len(g)
}
