// Package shape implements structural constraints: declarative rules a
// subtree must satisfy for a mutation to be persisted. Checks are pure and
// run against the proposed post-mutation tree before anything is committed.
package shape

import (
	"fmt"

	"github.com/gobwas/glob"
	"golang.org/x/net/html"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
)

// Constraint requires every Require selector to match within each
// constrained target. An empty Resources set applies globally; an empty
// Selector constrains the whole-document root.
type Constraint struct {
	Resources []string // glob-capable path patterns; empty = global
	Selector  string   // empty = document root
	Require   []string // non-empty
}

// Violation describes a failed constraint check.
type Violation struct {
	ConstraintSelector string
	FailedRequire      string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("shape constraint %q: required selector %q matches nothing", v.ConstraintSelector, v.FailedRequire)
}

// CheckSubtree validates a proposed post-mutation document. mutated is the
// node the mutation introduced or modified (the replacement for PUT, the
// container for POST). Only constrained targets that intersect the mutated
// region are rechecked; a pre-existing violation elsewhere in the document
// does not block an unrelated mutation.
func CheckSubtree(cs []Constraint, path string, d *doc.Document, mutated *html.Node) *Violation {
	for _, c := range cs {
		if !resourceMatch(c, path) {
			continue
		}
		for _, target := range constrainedTargets(c, d) {
			if !doc.Contains(target, mutated) && !doc.Contains(mutated, target) {
				continue
			}
			if v := checkRequires(c, target); v != nil {
				return v
			}
		}
	}
	return nil
}

// CheckDeleted validates a tree from which a node was just removed.
// ancestors is the removed node's former ancestor chain, nearest first. Per
// contract, only the nearest ancestor that is itself a constrained target is
// rechecked; a violation there rejects the delete with a distinct error so
// callers can tell "would violate shape" from "shape is wrong as submitted".
func CheckDeleted(cs []Constraint, path string, d *doc.Document, ancestors []*html.Node) *Violation {
	var applicable []Constraint
	for _, c := range cs {
		if resourceMatch(c, path) {
			applicable = append(applicable, c)
		}
	}
	if len(applicable) == 0 {
		return nil
	}
	for _, anc := range ancestors {
		constrained := false
		var violation *Violation
		for _, c := range applicable {
			for _, target := range constrainedTargets(c, d) {
				if target != anc {
					continue
				}
				constrained = true
				if v := checkRequires(c, target); v != nil && violation == nil {
					violation = v
				}
			}
		}
		if constrained {
			return violation
		}
	}
	return nil
}

func constrainedTargets(c Constraint, d *doc.Document) []*html.Node {
	if c.Selector == "" {
		if root := d.HTMLElement(); root != nil {
			return []*html.Node{root}
		}
		return nil
	}
	matches, err := selector.Resolve(d.Root, c.Selector)
	if err != nil {
		return nil // malformed constraint: does not exist for matching
	}
	return matches
}

func checkRequires(c Constraint, target *html.Node) *Violation {
	for _, req := range c.Require {
		matches, err := selector.Resolve(target, req)
		if err != nil || len(matches) == 0 {
			return &Violation{ConstraintSelector: c.Selector, FailedRequire: req}
		}
	}
	return nil
}

func resourceMatch(c Constraint, path string) bool {
	if len(c.Resources) == 0 {
		return true
	}
	for _, pat := range c.Resources {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			continue
		}
		if g.Match(path) {
			return true
		}
	}
	return false
}

// ParseConstraints scans documents for constraint markup: elements with
// class "constraint" holding child "resource", "selector", and "require"
// elements. Entries without at least one require selector are dropped, the
// same fail-closed-by-omission treatment rules get.
func ParseConstraints(docs ...*doc.Document) []Constraint {
	var out []Constraint
	for _, d := range docs {
		if d == nil {
			continue
		}
		nodes, err := selector.Resolve(d.Root, ".constraint")
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if c, ok := parseConstraint(n); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func parseConstraint(n *html.Node) (Constraint, bool) {
	c := Constraint{}
	for _, r := range childrenWithClass(n, "resource") {
		if v := doc.Text(r); v != "" {
			c.Resources = append(c.Resources, v)
		}
	}
	sels := childrenWithClass(n, "selector")
	switch len(sels) {
	case 0:
	case 1:
		c.Selector = doc.Text(sels[0])
	default:
		return Constraint{}, false
	}
	for _, r := range childrenWithClass(n, "require") {
		if v := doc.Text(r); v != "" {
			c.Require = append(c.Require, v)
		}
	}
	if len(c.Require) == 0 {
		return Constraint{}, false
	}
	return c, true
}

func childrenWithClass(n *html.Node, class string) []*html.Node {
	matches, err := selector.Resolve(n, "."+class)
	if err != nil {
		return nil
	}
	return matches
}
