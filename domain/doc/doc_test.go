package doc_test

import (
	"strings"
	"testing"

	"github.com/alistaircroll/pagelove/domain/doc"
	"golang.org/x/net/html"
)

const page = `<html><head><title>t</title></head><body>
<ul id="list">
  <li class="person"><span class="name">Ada</span></li>
  <li class="person"><span class="name">Bob</span></li>
</ul>
<p>loose</p>
</body></html>`

func mustParse(t *testing.T, path, markup string) *doc.Document {
	t.Helper()
	d, err := doc.ParseString(path, markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func findByID(d *doc.Document, id string) *html.Node {
	for _, n := range d.Elements() {
		if doc.ID(n) == id {
			return n
		}
	}
	return nil
}

func TestParse_RoundTrip(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	out, err := d.RenderString()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `<ul id="list">`) {
		t.Errorf("rendered output missing list: %s", out)
	}
}

func TestCanonicalSelector_ID(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	if list == nil {
		t.Fatal("list not found")
	}
	if got := d.CanonicalSelector(list); got != "#list" {
		t.Errorf("CanonicalSelector = %q, want #list", got)
	}
}

func TestCanonicalSelector_IndexPath(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	// Second <li> inside #list.
	var second *html.Node
	idx := 0
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			idx++
			if idx == 2 {
				second = c
			}
		}
	}
	if second == nil {
		t.Fatal("second li not found")
	}

	got := d.CanonicalSelector(second)
	if got != "#list > :nth-child(2)" {
		t.Errorf("CanonicalSelector = %q, want %q", got, "#list > :nth-child(2)")
	}
}

func TestCanonicalSelector_AnchoredAtHTML(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	body := d.Body()
	got := d.CanonicalSelector(body)
	if got != "html > :nth-child(2)" {
		t.Errorf("CanonicalSelector(body) = %q, want %q", got, "html > :nth-child(2)")
	}
}

func TestVersionTag_ChangesOnTouch(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	before := d.VersionTag(list)
	d.Touch(list)
	after := d.VersionTag(list)

	if before == after {
		t.Errorf("version tag unchanged across touch: %s", before)
	}
}

func TestReplaceNode_DropsOmittedChildren(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	repl, err := doc.ParseElement(`<ul id="list"></ul>`, list.Parent)
	if err != nil {
		t.Fatalf("parse element: %v", err)
	}
	if err := d.ReplaceNode(list, repl); err != nil {
		t.Fatalf("replace: %v", err)
	}

	out, _ := d.RenderString()
	if strings.Contains(out, "Ada") {
		t.Error("whole-subtree replacement must drop omitted children")
	}
}

func TestAppendChild_AlwaysLast(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	child, err := doc.ParseElement(`<li class="person"><span class="name">Cyd</span></li>`, list)
	if err != nil {
		t.Fatalf("parse element: %v", err)
	}
	d.AppendChild(list, child)

	var last *html.Node
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			last = c
		}
	}
	if last != child {
		t.Error("appended child is not the last element child")
	}
}

func TestRemoveNode(t *testing.T) {
	d := mustParse(t, "/a.html", page)

	list := findByID(d, "list")
	if err := d.RemoveNode(list); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if findByID(d, "list") != nil {
		t.Error("removed node still reachable")
	}
}

func TestClone_Independent(t *testing.T) {
	d := mustParse(t, "/a.html", page)
	cp := d.Clone()

	list := findByID(cp, "list")
	if err := cp.RemoveNode(list); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if findByID(d, "list") == nil {
		t.Error("mutating clone affected original")
	}
}

func TestClone_PreservesVersionTags(t *testing.T) {
	d := mustParse(t, "/a.html", page)
	list := findByID(d, "list")
	d.Touch(list)
	want := d.VersionTag(list)

	cp := d.Clone()
	got := cp.VersionTag(findByID(cp, "list"))
	if got != want {
		t.Errorf("clone version tag = %s, want %s", got, want)
	}
}

func TestParseElement_RejectsMultiple(t *testing.T) {
	if _, err := doc.ParseElement(`<li>a</li><li>b</li>`, nil); err == nil {
		t.Error("expected error for multiple elements")
	}
	if _, err := doc.ParseElement(`   `, nil); err == nil {
		t.Error("expected error for empty representation")
	}
}

func TestText(t *testing.T) {
	d := mustParse(t, "/a.html", page)
	list := findByID(d, "list")
	got := doc.Text(list)
	if !strings.Contains(got, "Ada") || !strings.Contains(got, "Bob") {
		t.Errorf("Text = %q", got)
	}
}
