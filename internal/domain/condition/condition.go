// Package condition implements the trigger condition language: a map of
// dotted event paths to either a literal (equality) or an operator object
// with exactly one of eq, ne, gt, gte, lt, lte, in, nin, regex. All keys are
// ANDed. Evaluation is pure.
package condition

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Strob0t/toolgate/internal/domain"
)

// Op names an operator of the condition language.
type Op string

const (
	OpLiteral Op = "literal"
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpIn      Op = "in"
	OpNin     Op = "nin"
	OpRegex   Op = "regex"
)

// optionsKey may accompany a regex operator.
const optionsKey = "options"

// Predicate is one node of the condition AST. The concrete types are
// Literal, Eq, Ne, Gt, Gte, Lt, Lte, In, Nin and Regex.
type Predicate interface {
	Op() Op
	// Test reports whether the value found at a path satisfies the
	// predicate. v is Absent when the path does not resolve.
	Test(v any) bool
}

// Clause binds a predicate to a dotted path.
type Clause struct {
	Path      string
	Predicate Predicate
}

// Condition is a compiled conjunction of clauses. The zero value matches
// every document.
type Condition struct {
	Clauses []Clause
}

// Match reports whether every clause holds for doc.
func (c Condition) Match(doc map[string]any) bool {
	for _, cl := range c.Clauses {
		if !cl.Predicate.Test(Lookup(doc, cl.Path)) {
			return false
		}
	}
	return true
}

// Empty reports whether the condition has no clauses.
func (c Condition) Empty() bool { return len(c.Clauses) == 0 }

// Compile parses a raw conditions map into a Condition. Clauses are
// ordered by path so compiled conditions are deterministic.
func Compile(raw map[string]any) (Condition, error) {
	if len(raw) == 0 {
		return Condition{}, nil
	}
	paths := make([]string, 0, len(raw))
	for p := range raw {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	clauses := make([]Clause, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return Condition{}, fmt.Errorf("%w: condition path must not be empty", domain.ErrValidation)
		}
		pred, err := compileValue(raw[p])
		if err != nil {
			return Condition{}, fmt.Errorf("%w: condition %q: %w", domain.ErrValidation, p, err)
		}
		clauses = append(clauses, Clause{Path: p, Predicate: pred})
	}
	return Condition{Clauses: clauses}, nil
}

// Evaluate compiles conds and matches them against doc in one step.
func Evaluate(doc, conds map[string]any) (bool, error) {
	c, err := Compile(conds)
	if err != nil {
		return false, err
	}
	return c.Match(doc), nil
}

func compileValue(v any) (Predicate, error) {
	obj, ok := asMap(v)
	if !ok || len(obj) == 0 || !hasOperatorKey(obj) {
		return Literal{Value: v}, nil
	}

	var (
		op      Op
		operand any
		options string
		hasOpts bool
	)
	for k, val := range obj {
		name := strings.TrimPrefix(k, "$")
		if name == optionsKey {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("options must be a string")
			}
			options, hasOpts = s, true
			continue
		}
		if !isOperator(name) {
			return nil, fmt.Errorf("unknown operator %q mixed with operators", k)
		}
		if op != "" {
			return nil, fmt.Errorf("operator object must contain exactly one operator, got %q and %q", op, name)
		}
		op, operand = Op(name), val
	}
	if op == "" {
		return nil, fmt.Errorf("options given without regex")
	}
	if hasOpts && op != OpRegex {
		return nil, fmt.Errorf("options are only valid with regex")
	}

	switch op {
	case OpEq:
		return Eq{Value: operand}, nil
	case OpNe:
		return Ne{Value: operand}, nil
	case OpGt:
		return Gt{Value: operand}, nil
	case OpGte:
		return Gte{Value: operand}, nil
	case OpLt:
		return Lt{Value: operand}, nil
	case OpLte:
		return Lte{Value: operand}, nil
	case OpIn, OpNin:
		list, ok := asSlice(operand)
		if !ok {
			return nil, fmt.Errorf("%s expects a list", op)
		}
		if op == OpIn {
			return In{Values: list}, nil
		}
		return Nin{Values: list}, nil
	case OpRegex:
		return compileRegex(operand, options)
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func compileRegex(operand any, options string) (Predicate, error) {
	pattern, ok := operand.(string)
	if !ok {
		return nil, fmt.Errorf("regex expects a string pattern")
	}
	var flags strings.Builder
	for _, f := range options {
		switch f {
		case 'i', 'm', 's':
			flags.WriteRune(f)
		default:
			return nil, fmt.Errorf("unsupported regex option %q", f)
		}
	}
	expr := pattern
	if flags.Len() > 0 {
		expr = "(?" + flags.String() + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return Regex{Pattern: re, Options: options}, nil
}

func hasOperatorKey(obj map[string]any) bool {
	for k := range obj {
		name := strings.TrimPrefix(k, "$")
		if isOperator(name) || (name == optionsKey && strings.HasPrefix(k, "$")) {
			return true
		}
	}
	return false
}

func isOperator(name string) bool {
	switch Op(name) {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpRegex:
		return true
	}
	return false
}
