package selector_test

import (
	"errors"
	"testing"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
)

const page = `<html><body>
<ul id="list">
  <li class="person"><span class="name">Ada</span></li>
  <li class="person"><span class="name">Bob</span></li>
</ul>
<div id="secret">hidden</div>
</body></html>`

func parse(t *testing.T) *doc.Document {
	t.Helper()
	d, err := doc.ParseString("/a.html", page)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestResolve_DocumentOrder(t *testing.T) {
	d := parse(t)

	matches, err := selector.Resolve(d.Root, ".person")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if doc.Text(matches[0]) != "Ada" || doc.Text(matches[1]) != "Bob" {
		t.Errorf("matches out of document order: %q, %q", doc.Text(matches[0]), doc.Text(matches[1]))
	}
}

func TestResolveFirst_Authoritative(t *testing.T) {
	d := parse(t)

	n, err := selector.ResolveFirst(d.Root, ".person")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if doc.Text(n) != "Ada" {
		t.Errorf("first match = %q, want Ada", doc.Text(n))
	}
}

func TestResolveFirst_NoMatch(t *testing.T) {
	d := parse(t)

	_, err := selector.ResolveFirst(d.Root, ".missing")
	if !errors.Is(err, selector.ErrNoMatch) {
		t.Errorf("err = %v, want ErrNoMatch", err)
	}
}

func TestResolveOne_Ambiguous(t *testing.T) {
	d := parse(t)

	_, err := selector.ResolveOne(d.Root, ".person")
	if !errors.Is(err, selector.ErrAmbiguous) {
		t.Errorf("err = %v, want ErrAmbiguous", err)
	}
}

func TestResolveOne_Exact(t *testing.T) {
	d := parse(t)

	n, err := selector.ResolveOne(d.Root, "#secret")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if doc.Text(n) != "hidden" {
		t.Errorf("resolved wrong node: %q", doc.Text(n))
	}
}

func TestResolve_InvalidSelector(t *testing.T) {
	d := parse(t)

	if _, err := selector.Resolve(d.Root, "][oops"); err == nil {
		t.Error("expected error for invalid selector")
	}
}

func TestMatches(t *testing.T) {
	d := parse(t)

	n, _ := selector.ResolveOne(d.Root, "#secret")
	ok, err := selector.Matches(n, "div#secret")
	if err != nil || !ok {
		t.Errorf("Matches = %v, %v; want true", ok, err)
	}
	ok, _ = selector.Matches(n, ".person")
	if ok {
		t.Error("Matches reported true for non-matching selector")
	}
}

func TestCanonicalSelector_Stability(t *testing.T) {
	d := parse(t)

	for _, n := range d.Elements() {
		sel := d.CanonicalSelector(n)
		if sel == "" {
			continue
		}
		got, err := selector.ResolveFirst(d.Root, sel)
		if err != nil {
			t.Fatalf("canonical selector %q failed to resolve: %v", sel, err)
		}
		if got != n {
			t.Errorf("canonical selector %q resolved to a different node", sel)
		}
	}
}
