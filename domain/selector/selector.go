// Package selector evaluates structural queries (CSS selectors) against
// document trees. Matching is pure and synchronous; results come back in
// document order. Compilation and matching use github.com/andybalholm/cascadia.
package selector

import (
	"errors"
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrNoMatch is returned when a selector that must resolve matches nothing.
var ErrNoMatch = errors.New("selector matches nothing")

// ErrAmbiguous is returned when a selector that must resolve to exactly one
// node matches more than one. Ambiguity is a server fault, never silently
// resolved by picking a match.
var ErrAmbiguous = errors.New("selector matches more than one node")

// Compile parses a selector group. Invalid selector syntax is a caller error.
func Compile(sel string) (cascadia.SelectorGroup, error) {
	group, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return group, nil
}

// Resolve returns every node under root matching sel, in document order.
func Resolve(root *html.Node, sel string) ([]*html.Node, error) {
	group, err := Compile(sel)
	if err != nil {
		return nil, err
	}
	return ResolveCompiled(root, group), nil
}

// ResolveCompiled matches a pre-compiled selector group, in document order.
func ResolveCompiled(root *html.Node, group cascadia.SelectorGroup) []*html.Node {
	return cascadia.QueryAll(root, group)
}

// ResolveFirst returns the first match in document order. For single-target
// verbs the first match is authoritative. Returns ErrNoMatch when nothing
// matches.
func ResolveFirst(root *html.Node, sel string) (*html.Node, error) {
	matches, err := Resolve(root, sel)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNoMatch
	}
	return matches[0], nil
}

// ResolveOne enforces strict cardinality: exactly one match. Zero matches is
// ErrNoMatch; more than one is ErrAmbiguous.
func ResolveOne(root *html.Node, sel string) (*html.Node, error) {
	matches, err := Resolve(root, sel)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// Matches reports whether node n itself matches sel.
func Matches(n *html.Node, sel string) (bool, error) {
	group, err := Compile(sel)
	if err != nil {
		return false, err
	}
	for _, s := range group {
		if s.Match(n) {
			return true, nil
		}
	}
	return false, nil
}
