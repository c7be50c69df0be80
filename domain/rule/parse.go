package rule

import (
	"golang.org/x/net/html"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
)

// Policy is the raw authorization material scanned out of documents before
// compilation: rules, group memberships, and a count of entries whose markup
// was too broken to even parse.
type Policy struct {
	Rules     []Rule
	Groups    map[string][]string
	Malformed int
}

// ParsePolicy scans documents for rule and group markup. Rules are elements
// with class "rule"; their sub-fields are child elements with classes
// "actor", "resource", "method", "selector", and "action". Groups are
// elements with class "group" and an id, containing "member" elements.
//
// Entries with structurally broken markup are dropped and counted, never
// reported as errors: a broken rule must fail closed, not loud.
func ParsePolicy(docs ...*doc.Document) Policy {
	p := Policy{Groups: make(map[string][]string)}
	for _, d := range docs {
		if d == nil {
			continue
		}
		p.parseRules(d)
		p.parseGroups(d)
	}
	return p
}

func (p *Policy) parseRules(d *doc.Document) {
	nodes, err := selector.Resolve(d.Root, ".rule")
	if err != nil {
		return
	}
	for _, n := range nodes {
		r, ok := parseRule(n)
		if !ok {
			p.Malformed++
			continue
		}
		p.Rules = append(p.Rules, r)
	}
}

func (p *Policy) parseGroups(d *doc.Document) {
	nodes, err := selector.Resolve(d.Root, ".group")
	if err != nil {
		return
	}
	for _, n := range nodes {
		name := doc.ID(n)
		if name == "" {
			p.Malformed++
			continue
		}
		for _, m := range childrenWithClass(n, "member") {
			if member := doc.Text(m); member != "" {
				p.Groups[name] = append(p.Groups[name], member)
			}
		}
	}
}

func parseRule(n *html.Node) (Rule, bool) {
	r := Rule{}
	for _, c := range childrenWithClass(n, "actor") {
		if v := doc.Text(c); v != "" {
			r.Actors = append(r.Actors, v)
		}
	}
	for _, c := range childrenWithClass(n, "resource") {
		if v := doc.Text(c); v != "" {
			r.Resources = append(r.Resources, v)
		}
	}
	for _, c := range childrenWithClass(n, "method") {
		if v := doc.Text(c); v != "" {
			r.Verbs = append(r.Verbs, v)
		}
	}
	sels := childrenWithClass(n, "selector")
	switch len(sels) {
	case 0:
		// Whole-document scope.
	case 1:
		r.Selector = doc.Text(sels[0])
	default:
		return Rule{}, false
	}
	actions := childrenWithClass(n, "action")
	if len(actions) != 1 {
		return Rule{}, false
	}
	r.Action = Action(doc.Text(actions[0]))
	if len(r.Actors) == 0 || len(r.Resources) == 0 || len(r.Verbs) == 0 {
		return Rule{}, false
	}
	return r, true
}

// childrenWithClass returns descendant elements of n carrying the class.
func childrenWithClass(n *html.Node, class string) []*html.Node {
	matches, err := selector.Resolve(n, "."+class)
	if err != nil {
		return nil
	}
	return matches
}
