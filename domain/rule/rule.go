// Package rule implements the authorization model: declarative rules stored
// as markup inside ordinary documents, compiled into an in-memory index and
// queried per request. Decisions are pure functions over the compiled set.
//
// The model is closed by default: absence of any firing allow rule denies,
// and a firing deny rule overrides any firing allow rule.
package rule

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/gobwas/glob"
	"golang.org/x/net/html"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
)

// Action is the outcome a rule contributes.
type Action string

const (
	Allow Action = "allow"
	Deny  Action = "deny"
)

// WildcardActor matches any actor, authenticated or not.
const WildcardActor = "*"

// Methods is the full verb set rules may reference.
var Methods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"}

// Rule is a single authorization rule (immutable value type). A rule fires
// only when all four conditions hold: actor membership, resource glob match,
// method membership, and selector containment.
type Rule struct {
	Actors    []string // >=1; may contain group names or the wildcard
	Resources []string // >=1 glob-capable absolute path patterns
	Verbs     []string // >=1 drawn from Methods
	Selector  string   // optional; empty means whole-document scope
	Action    Action
}

// Query is a single authorization question.
type Query struct {
	Actor  string
	Path   string
	Method string
	// Target is the node the request addresses; Root is the document (or
	// document element) the rule selectors evaluate against.
	Target *html.Node
	Root   *html.Node
}

// compiledRule carries pre-compiled matchers alongside the source rule.
type compiledRule struct {
	src      Rule
	globs    []glob.Glob
	sel      cascadia.SelectorGroup // nil when the rule has no selector
	wildcard bool
}

// Compiled is a rule index rebuilt whenever the rule document changes, plus
// the actor-to-groups closure computed once per rebuild. Groups are flat, so
// one level of indirection is sufficient.
type Compiled struct {
	rules   []compiledRule
	closure map[string][]string // actor -> group names
	skipped int
}

// Compile builds the index from scanned policy material. Malformed rules
// (missing required sub-fields, uncompilable globs or selectors) are
// silently excluded from the matched set: a broken rule fails closed rather
// than failing loud. This is intentional; do not turn exclusions into errors.
func Compile(p Policy) *Compiled {
	c := &Compiled{closure: invertGroups(p.Groups), skipped: p.Malformed}
	for _, r := range p.Rules {
		cr, ok := compileRule(r)
		if !ok {
			c.skipped++
			continue
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

// Skipped reports how many rules were excluded as malformed. Surfaced for
// operator logging only; exclusion itself stays silent on the decision path.
func (c *Compiled) Skipped() int {
	return c.skipped
}

// Len returns the number of live rules in the index.
func (c *Compiled) Len() int {
	return len(c.rules)
}

func compileRule(r Rule) (compiledRule, bool) {
	if len(r.Actors) == 0 || len(r.Resources) == 0 || len(r.Verbs) == 0 {
		return compiledRule{}, false
	}
	if r.Action != Allow && r.Action != Deny {
		return compiledRule{}, false
	}
	cr := compiledRule{src: r}
	for _, a := range r.Actors {
		if a == WildcardActor {
			cr.wildcard = true
		}
	}
	for _, v := range r.Verbs {
		if !validMethod(v) {
			return compiledRule{}, false
		}
	}
	for _, pat := range r.Resources {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return compiledRule{}, false
		}
		cr.globs = append(cr.globs, g)
	}
	if r.Selector != "" {
		group, err := selector.Compile(r.Selector)
		if err != nil {
			return compiledRule{}, false
		}
		cr.sel = group
	}
	return cr, true
}

func validMethod(m string) bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// invertGroups maps each member to the groups it belongs to.
func invertGroups(groups map[string][]string) map[string][]string {
	closure := make(map[string][]string)
	for name, members := range groups {
		for _, m := range members {
			closure[m] = append(closure[m], name)
		}
	}
	return closure
}

// MemberOf reports whether the actor belongs to the named group.
func (c *Compiled) MemberOf(actor, group string) bool {
	for _, g := range c.closure[actor] {
		if g == group {
			return true
		}
	}
	return false
}

// Decide answers a single authorization question. Conflicts resolve to the
// most conservative outcome: any firing deny wins over any firing allow.
func (c *Compiled) Decide(q Query) Action {
	allowed := false
	for _, cr := range c.rules {
		if !c.fires(cr, q) {
			continue
		}
		if cr.src.Action == Deny {
			return Deny
		}
		allowed = true
	}
	if allowed {
		return Allow
	}
	return Deny
}

// AllowedMethods is the enumeration mode used by capability discovery: the
// set of data verbs Decide would allow for this actor and target.
func (c *Compiled) AllowedMethods(actor, path string, target, root *html.Node) []string {
	var out []string
	for _, m := range []string{"GET", "PUT", "POST", "DELETE"} {
		q := Query{Actor: actor, Path: path, Method: m, Target: target, Root: root}
		if c.Decide(q) == Allow {
			out = append(out, m)
		}
	}
	return out
}

func (c *Compiled) fires(cr compiledRule, q Query) bool {
	if !c.actorMatch(cr, q.Actor) {
		return false
	}
	if !globMatch(cr.globs, q.Path) {
		return false
	}
	if !methodMatch(cr.src.Verbs, q.Method) {
		return false
	}
	if cr.sel == nil {
		return true // whole-document scope
	}
	if q.Target == nil || q.Root == nil {
		return false
	}
	for _, m := range selector.ResolveCompiled(q.Root, cr.sel) {
		if doc.Contains(m, q.Target) {
			return true
		}
	}
	return false
}

func (c *Compiled) actorMatch(cr compiledRule, actor string) bool {
	if cr.wildcard {
		return true
	}
	for _, a := range cr.src.Actors {
		if a == actor {
			return true
		}
		// Indirect membership: the rule names a group the actor is in.
		for _, g := range c.closure[actor] {
			if a == g {
				return true
			}
		}
	}
	return false
}

func globMatch(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func methodMatch(verbs []string, m string) bool {
	m = strings.ToUpper(m)
	for _, v := range verbs {
		if v == m {
			return true
		}
	}
	return false
}
