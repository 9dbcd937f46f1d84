package language

import (
	"strconv"
	"strings"
	"unicode"
)

// Simple translates ${...} placeholders and the simple operators into an
// expr program.
//
//	${body} contains 'Camel'
//	${header.beer} == 'Carlsberg' && ${exchangeProperty.retries} > 2
type Simple struct{}

func (Simple) Name() string { return "simple" }

func (Simple) Compile(expression string) (Predicate, error) {
	translated, err := translateSimple(expression)
	if err != nil {
		return nil, invalidSyntax(expression, err.Error())
	}
	return compile("simple", expression, translated)
}

type syntaxError string

func (e syntaxError) Error() string { return string(e) }

// translateSimple copies quoted literals verbatim, expands functions and
// renames operators that expr spells differently.
func translateSimple(s string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(s, i)
			if end < 0 {
				return "", syntaxError("unterminated string literal")
			}
			out.WriteString(s[i : end+1])
			i = end + 1
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return "", syntaxError("unclosed function")
			}
			fn := strings.TrimSpace(s[i+2 : i+2+end])
			translated, err := translateFunction(fn)
			if err != nil {
				return "", err
			}
			out.WriteString(translated)
			i += end + 3
		case isWordStart(c):
			j := i
			for j < len(s) && isWordPart(s[j]) {
				j++
			}
			word := s[i:j]
			switch word {
			case "regex":
				out.WriteString("matches")
			case "null":
				out.WriteString("nil")
			case "in":
				out.WriteString("in")
				rest, consumed, ok := inList(s[j:])
				if ok {
					out.WriteString(rest)
					j += consumed
				}
			default:
				out.WriteString(word)
			}
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), nil
}

func translateFunction(fn string) (string, error) {
	switch fn {
	case "body", "in.body":
		return "body", nil
	case "exchangeId", "id":
		return "exchangeId", nil
	case "routeId":
		return "routeId", nil
	case "null":
		return "nil", nil
	}
	for _, prefix := range []string{"header.", "headers.", "in.header.", "in.headers."} {
		if key, ok := strings.CutPrefix(fn, prefix); ok && key != "" {
			return "header[" + strconv.Quote(key) + "]", nil
		}
	}
	if key, ok := strings.CutPrefix(fn, "exchangeProperty."); ok && key != "" {
		return "property[" + strconv.Quote(key) + "]", nil
	}
	if fn == "" {
		return "", syntaxError("empty function")
	}
	return "", syntaxError("unknown function " + fn)
}

// inList turns the comma separated literal after "in" into an array.
func inList(rest string) (string, int, bool) {
	trimmed := strings.TrimLeft(rest, " \t")
	lead := len(rest) - len(trimmed)
	if trimmed == "" || trimmed[0] != '\'' {
		return "", 0, false
	}
	end := closingQuote(trimmed, 0)
	if end < 0 {
		return "", 0, false
	}
	items := strings.Split(trimmed[1:end], ",")
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(strings.TrimSpace(item))
	}
	return " [" + strings.Join(quoted, ", ") + "]", lead + end + 1, true
}

func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i
		}
	}
	return -1
}

func isWordStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isWordPart(c byte) bool {
	return isWordStart(c) || unicode.IsDigit(rune(c)) || c == '.'
}
