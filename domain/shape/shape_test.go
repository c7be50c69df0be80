package shape_test

import (
	"testing"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
	"github.com/alistaircroll/pagelove/domain/shape"
	"golang.org/x/net/html"
)

const peopleDoc = `<html><body>
<ul id="people" class="people">
  <li><span class="name">Ada</span><span class="email">ada@example.com</span></li>
</ul>
</body></html>`

const constraintDoc = `<html><body>
<div class="constraint">
  <span class="resource">/people*.html</span>
  <span class="selector">ul.people > li</span>
  <span class="require">.name</span>
  <span class="require">.email</span>
</div>
<div class="constraint">
  <span class="resource">/people*.html</span>
  <span class="selector">ul.people</span>
  <span class="require">li .name</span>
</div>
<div class="constraint">
  <span class="selector">.broken</span>
</div>
</body></html>`

func constraints(t *testing.T) []shape.Constraint {
	t.Helper()
	d, err := doc.ParseString("/auth.html", constraintDoc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return shape.ParseConstraints(d)
}

func parsePeople(t *testing.T) *doc.Document {
	t.Helper()
	d, err := doc.ParseString("/people.html", peopleDoc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func appendLi(t *testing.T, d *doc.Document, markup string) (*html.Node, *html.Node) {
	t.Helper()
	list, err := selector.ResolveFirst(d.Root, "#people")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	child, err := doc.ParseElement(markup, list)
	if err != nil {
		t.Fatalf("parse element: %v", err)
	}
	d.AppendChild(list, child)
	return list, child
}

func TestParseConstraints_DropsMalformed(t *testing.T) {
	cs := constraints(t)
	// The constraint without a require set must not exist for matching.
	if len(cs) != 2 {
		t.Fatalf("got %d constraints, want 2", len(cs))
	}
}

func TestCheckSubtree_ValidAppend(t *testing.T) {
	cs := constraints(t)
	d := parsePeople(t)
	list, _ := appendLi(t, d, `<li><span class="name">Bob</span><span class="email">bob@example.com</span></li>`)

	if v := shape.CheckSubtree(cs, "/people.html", d, list); v != nil {
		t.Errorf("unexpected violation: %v", v)
	}
}

func TestCheckSubtree_MissingRequire(t *testing.T) {
	cs := constraints(t)
	d := parsePeople(t)
	list, _ := appendLi(t, d, `<li><span class="name">Bob</span></li>`)

	v := shape.CheckSubtree(cs, "/people.html", d, list)
	if v == nil {
		t.Fatal("expected violation for li missing .email")
	}
	if v.FailedRequire != ".email" {
		t.Errorf("failed require = %q, want .email", v.FailedRequire)
	}
}

func TestCheckSubtree_ResourcePatternScoping(t *testing.T) {
	cs := constraints(t)
	d, err := doc.ParseString("/other.html", peopleDoc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	list, _ := appendLi(t, d, `<li>no fields</li>`)

	// Same markup under a path the constraint's resource pattern does not
	// cover passes untouched.
	if v := shape.CheckSubtree(cs, "/other.html", d, list); v != nil {
		t.Errorf("constraint leaked outside its resource pattern: %v", v)
	}
}

func TestCheckDeleted_WouldViolateAncestor(t *testing.T) {
	cs := constraints(t)
	d := parsePeople(t)

	li, err := selector.ResolveFirst(d.Root, "ul.people > li")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var ancestors []*html.Node
	for cur := li.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			ancestors = append(ancestors, cur)
		}
	}
	if err := d.RemoveNode(li); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// The list now has no "li .name": its own constraint fails.
	if v := shape.CheckDeleted(cs, "/people.html", d, ancestors); v == nil {
		t.Error("expected would-violate for removing the last person")
	}
}

func TestCheckDeleted_SafeRemoval(t *testing.T) {
	cs := constraints(t)
	d := parsePeople(t)
	appendLi(t, d, `<li><span class="name">Bob</span><span class="email">bob@example.com</span></li>`)

	lis, _ := selector.Resolve(d.Root, "ul.people > li")
	target := lis[1]
	var ancestors []*html.Node
	for cur := target.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			ancestors = append(ancestors, cur)
		}
	}
	if err := d.RemoveNode(target); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if v := shape.CheckDeleted(cs, "/people.html", d, ancestors); v != nil {
		t.Errorf("unexpected violation removing one of two people: %v", v)
	}
}
