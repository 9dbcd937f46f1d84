// Package language compiles the predicates used by conditional breakpoints
// and trace filters. Two languages are built in: "simple", with ${...}
// placeholders over the exchange, and "expr", which hands the expression to
// expr-lang unchanged.
package language

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	"github.com/drblury/flowscope/internal/runtime/exchange"
)

// Error is a validation failure. Its text is the message reported to
// administrative callers; Unwrap exposes the sentinel.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func unknownLanguage(name string) error {
	return &Error{Kind: errspkg.ErrUnknownLanguage, Msg: "No language could be found for: " + name}
}

func invalidSyntax(expression, detail string) error {
	return &Error{Kind: errspkg.ErrInvalidSyntax, Msg: fmt.Sprintf("Invalid syntax %s: %s", expression, detail)}
}

// Predicate evaluates against an exchange.
type Predicate interface {
	Matches(ex *exchange.Exchange) (bool, error)
	Language() string
	Expression() string
}

// Language compiles expressions into predicates.
type Language interface {
	Name() string
	Compile(expression string) (Predicate, error)
}

// Resolver maps language names to implementations.
type Resolver struct {
	mu    sync.RWMutex
	langs map[string]Language
}

// NewResolver returns a resolver with the built-in languages registered.
func NewResolver() *Resolver {
	r := &Resolver{langs: make(map[string]Language)}
	r.Register(Simple{})
	r.Register(Expr{})
	return r
}

func (r *Resolver) Register(l Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langs[l.Name()] = l
}

func (r *Resolver) Resolve(name string) (Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.langs[name]
	if !ok {
		return nil, unknownLanguage(name)
	}
	return l, nil
}

func (r *Resolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.langs))
	for name := range r.langs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) Compile(lang, expression string) (Predicate, error) {
	l, err := r.Resolve(lang)
	if err != nil {
		return nil, err
	}
	return l.Compile(expression)
}

// Validate compiles and discards. It returns nil when the expression is
// usable.
func (r *Resolver) Validate(lang, expression string) error {
	_, err := r.Compile(lang, expression)
	return err
}

// env is the evaluation environment. Body and header values are typed as
// any so operators on them type-check at compile time and fail at run time
// on a mismatch.
type env struct {
	Body       any            `expr:"body"`
	Header     map[string]any `expr:"header"`
	Headers    map[string]any `expr:"headers"`
	Property   map[string]any `expr:"property"`
	ExchangeID string         `expr:"exchangeId"`
	RouteID    string         `expr:"routeId"`
}

func compile(lang, original, translated string) (Predicate, error) {
	if strings.TrimSpace(translated) == "" {
		return nil, invalidSyntax(original, "empty expression")
	}
	program, err := expr.Compile(translated, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, invalidSyntax(original, firstLine(err.Error()))
	}
	return &predicate{lang: lang, expression: original, program: program}, nil
}

type predicate struct {
	lang       string
	expression string
	program    *vm.Program
}

func (p *predicate) Language() string   { return p.lang }
func (p *predicate) Expression() string { return p.expression }

func (p *predicate) Matches(ex *exchange.Exchange) (bool, error) {
	if ex == nil {
		return false, nil
	}
	in := env{
		Headers:    map[string]any{},
		Property:   ex.Properties(),
		ExchangeID: ex.ID,
		RouteID:    ex.RouteID,
	}
	if ex.In != nil {
		in.Body = ex.In.Body
		in.Headers = ex.In.Headers.Map()
	}
	in.Header = in.Headers
	out, err := expr.Run(p.program, in)
	if err != nil {
		return false, err
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q returned %T", p.expression, out)
	}
	return matched, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Expr is the expr-lang language without translation.
type Expr struct{}

func (Expr) Name() string { return "expr" }

func (Expr) Compile(expression string) (Predicate, error) {
	return compile("expr", expression, expression)
}
