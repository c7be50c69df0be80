package rule_test

import (
	"testing"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/rule"
	"github.com/alistaircroll/pagelove/domain/selector"
)

const authDoc = `<html><body>
<div class="rule">
  <span class="actor">*</span>
  <span class="resource">/a.html</span>
  <span class="method">GET</span>
  <span class="action">allow</span>
</div>
<div class="rule">
  <span class="actor">*</span>
  <span class="resource">/a.html</span>
  <span class="method">GET</span>
  <span class="selector">#secret</span>
  <span class="action">deny</span>
</div>
<div class="rule">
  <span class="actor">staff</span>
  <span class="resource">/b/*.html</span>
  <span class="method">PUT</span>
  <span class="method">POST</span>
  <span class="action">allow</span>
</div>
<div class="rule">
  <span class="actor">mallory</span>
  <span class="resource">/a.html</span>
  <span class="action">allow</span>
</div>
<div class="group" id="staff">
  <span class="member">alice</span>
  <span class="member">bob</span>
</div>
</body></html>`

const targetDoc = `<html><body>
<div id="public">hello</div>
<div id="secret"><span class="token">xyz</span></div>
</body></html>`

func compile(t *testing.T) *rule.Compiled {
	t.Helper()
	d, err := doc.ParseString("/auth.html", authDoc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return rule.Compile(rule.ParsePolicy(d))
}

func TestDecide_DefaultDeny(t *testing.T) {
	c := compile(t)

	got := c.Decide(rule.Query{Actor: "alice", Path: "/nowhere.html", Method: "GET"})
	if got != rule.Deny {
		t.Errorf("decide = %v, want deny (closed by default)", got)
	}
}

func TestDecide_WildcardAllow(t *testing.T) {
	c := compile(t)
	d, err := doc.ParseString("/a.html", targetDoc)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := selector.ResolveFirst(d.Root, "#public")

	got := c.Decide(rule.Query{Actor: "anyone", Path: "/a.html", Method: "GET", Target: n, Root: d.Root})
	if got != rule.Allow {
		t.Errorf("decide = %v, want allow", got)
	}
}

func TestDecide_ScopedDenyWins(t *testing.T) {
	c := compile(t)
	d, _ := doc.ParseString("/a.html", targetDoc)
	secret, _ := selector.ResolveFirst(d.Root, "#secret")

	// The whole-document allow fires, but so does the #secret deny.
	got := c.Decide(rule.Query{Actor: "anyone", Path: "/a.html", Method: "GET", Target: secret, Root: d.Root})
	if got != rule.Deny {
		t.Errorf("decide = %v, want deny (deny wins)", got)
	}

	// Descendants of the denied subtree are denied too.
	tok, _ := selector.ResolveFirst(d.Root, ".token")
	got = c.Decide(rule.Query{Actor: "anyone", Path: "/a.html", Method: "GET", Target: tok, Root: d.Root})
	if got != rule.Deny {
		t.Errorf("decide on subtree descendant = %v, want deny", got)
	}
}

func TestDecide_GroupMembership(t *testing.T) {
	c := compile(t)
	d, _ := doc.ParseString("/b/x.html", `<html><body><ul id="l"></ul></body></html>`)
	n, _ := selector.ResolveFirst(d.Root, "#l")

	if got := c.Decide(rule.Query{Actor: "alice", Path: "/b/x.html", Method: "PUT", Target: n, Root: d.Root}); got != rule.Allow {
		t.Errorf("group member decide = %v, want allow", got)
	}
	if got := c.Decide(rule.Query{Actor: "eve", Path: "/b/x.html", Method: "PUT", Target: n, Root: d.Root}); got != rule.Deny {
		t.Errorf("non-member decide = %v, want deny", got)
	}
}

func TestDecide_GlobPatterns(t *testing.T) {
	c := compile(t)
	d, _ := doc.ParseString("/b/deep/x.html", `<html><body></body></html>`)

	// Single-star globs do not cross path separators.
	got := c.Decide(rule.Query{Actor: "alice", Path: "/b/deep/x.html", Method: "PUT", Target: d.Root, Root: d.Root})
	if got != rule.Deny {
		t.Errorf("decide = %v, want deny for nested path", got)
	}
}

func TestDecide_MethodMembership(t *testing.T) {
	c := compile(t)
	d, _ := doc.ParseString("/b/x.html", `<html><body></body></html>`)
	n := d.Body()

	if got := c.Decide(rule.Query{Actor: "bob", Path: "/b/x.html", Method: "DELETE", Target: n, Root: d.Root}); got != rule.Deny {
		t.Errorf("unlisted method decide = %v, want deny", got)
	}
}

func TestCompile_MalformedSilentlyExcluded(t *testing.T) {
	c := compile(t)

	// The mallory rule is missing its method set, so it must not exist for
	// matching purposes: mallory gets no access despite an "allow" action.
	if c.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", c.Skipped())
	}
	d, _ := doc.ParseString("/a.html", targetDoc)
	n, _ := selector.ResolveFirst(d.Root, "#public")
	if got := c.Decide(rule.Query{Actor: "mallory", Path: "/a.html", Method: "PUT", Target: n, Root: d.Root}); got != rule.Deny {
		t.Errorf("malformed rule leaked an allow: %v", got)
	}
}

func TestCompile_BadSelectorExcluded(t *testing.T) {
	p := rule.Policy{Rules: []rule.Rule{{
		Actors:    []string{"*"},
		Resources: []string{"/a.html"},
		Verbs:     []string{"GET"},
		Selector:  "][broken",
		Action:    rule.Allow,
	}}}
	c := rule.Compile(p)
	if c.Len() != 0 || c.Skipped() != 1 {
		t.Errorf("len=%d skipped=%d, want 0/1", c.Len(), c.Skipped())
	}
}

func TestAllowedMethods_Enumeration(t *testing.T) {
	c := compile(t)
	d, _ := doc.ParseString("/a.html", targetDoc)
	pub, _ := selector.ResolveFirst(d.Root, "#public")
	secret, _ := selector.ResolveFirst(d.Root, "#secret")

	got := c.AllowedMethods("anyone", "/a.html", pub, d.Root)
	if len(got) != 1 || got[0] != "GET" {
		t.Errorf("AllowedMethods(#public) = %v, want [GET]", got)
	}
	if got := c.AllowedMethods("anyone", "/a.html", secret, d.Root); len(got) != 0 {
		t.Errorf("AllowedMethods(#secret) = %v, want empty", got)
	}
}

func TestMemberOf(t *testing.T) {
	c := compile(t)
	if !c.MemberOf("alice", "staff") {
		t.Error("alice should be in staff")
	}
	if c.MemberOf("eve", "staff") {
		t.Error("eve should not be in staff")
	}
}
