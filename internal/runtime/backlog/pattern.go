package backlog

import (
	"regexp"
	"strings"

	"github.com/drblury/flowscope/internal/runtime/naming"
)

// routeMatcher holds a comma separated list of route id patterns. Each
// element matches exactly, as a * and ? wildcard, or as an anchored regular
// expression.
type routeMatcher struct {
	raw      string
	elements []patternElement
}

type patternElement struct {
	text string
	re   *regexp.Regexp
}

func compileRouteMatcher(pattern string) routeMatcher {
	m := routeMatcher{raw: strings.TrimSpace(pattern)}
	if m.raw == "" {
		return m
	}
	for _, part := range strings.Split(m.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		el := patternElement{text: part}
		if re, err := regexp.Compile("^(?:" + part + ")$"); err == nil {
			el.re = re
		}
		m.elements = append(m.elements, el)
	}
	return m
}

// matches reports whether routeID is selected. An empty pattern selects
// every route.
func (m routeMatcher) matches(routeID string) bool {
	if len(m.elements) == 0 {
		return true
	}
	for _, el := range m.elements {
		if el.text == routeID {
			return true
		}
		if strings.ContainsAny(el.text, "*?") && naming.Wildcard(el.text, routeID) {
			return true
		}
		if el.re != nil && el.re.MatchString(routeID) {
			return true
		}
	}
	return false
}
