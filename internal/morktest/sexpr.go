package morktest

import (
	"errors"
	"fmt"
	"strings"
)

// expr is an atom or a list. Variables are atoms starting with '$'.
type expr struct {
	atom   string
	list   []expr
	isList bool
}

func (e expr) String() string {
	if !e.isList {
		return e.atom
	}
	parts := make([]string, len(e.list))
	for i, c := range e.list {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (e expr) isVar() bool {
	return !e.isList && strings.HasPrefix(e.atom, "$")
}

// elements returns the top-level components used by exploration.
func (e expr) elements() []string {
	if !e.isList {
		return []string{e.atom}
	}
	out := make([]string, len(e.list))
	for i, c := range e.list {
		out[i] = c.String()
	}
	return out
}

var errUnbalanced = errors.New("unbalanced parentheses")

func tokenize(s string) []string {
	s = strings.ReplaceAll(s, "(", " ( ")
	s = strings.ReplaceAll(s, ")", " ) ")
	return strings.Fields(s)
}

// parseAll parses every top-level expression in text.
func parseAll(text string) ([]expr, error) {
	tokens := tokenize(text)
	var out []expr
	for len(tokens) > 0 {
		e, rest, err := parseOne(tokens)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		tokens = rest
	}
	return out, nil
}

func parseExpr(text string) (expr, error) {
	all, err := parseAll(text)
	if err != nil {
		return expr{}, err
	}
	if len(all) != 1 {
		return expr{}, fmt.Errorf("expected one expression, got %d", len(all))
	}
	return all[0], nil
}

func parseOne(tokens []string) (expr, []string, error) {
	switch tokens[0] {
	case ")":
		return expr{}, nil, errUnbalanced
	case "(":
		list := []expr{}
		rest := tokens[1:]
		for {
			if len(rest) == 0 {
				return expr{}, nil, errUnbalanced
			}
			if rest[0] == ")" {
				return expr{list: list, isList: true}, rest[1:], nil
			}
			child, next, err := parseOne(rest)
			if err != nil {
				return expr{}, nil, err
			}
			list = append(list, child)
			rest = next
		}
	default:
		return expr{atom: tokens[0]}, tokens[1:], nil
	}
}

type bindings map[string]expr

// match unifies pattern against a ground fact, extending b.
func match(pattern, fact expr, b bindings) bool {
	if pattern.isVar() {
		if bound, ok := b[pattern.atom]; ok {
			return bound.String() == fact.String()
		}
		b[pattern.atom] = fact
		return true
	}
	if pattern.isList != fact.isList {
		return false
	}
	if !pattern.isList {
		return pattern.atom == fact.atom
	}
	if len(pattern.list) != len(fact.list) {
		return false
	}
	for i := range pattern.list {
		if !match(pattern.list[i], fact.list[i], b) {
			return false
		}
	}
	return true
}

func substitute(template expr, b bindings) expr {
	if template.isVar() {
		if bound, ok := b[template.atom]; ok {
			return bound
		}
		return template
	}
	if !template.isList {
		return template
	}
	out := expr{isList: true, list: make([]expr, len(template.list))}
	for i, c := range template.list {
		out.list[i] = substitute(c, b)
	}
	return out
}
