// Package doc provides the stored document model: an ordered tree of
// addressable nodes with stable canonical selectors and per-node version tags.
// Parsing and rendering use golang.org/x/net/html; this package does no I/O.
package doc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed markup document identified by an absolute resource path.
// Documents are treated as immutable once published to a store; mutations
// operate on a Clone and swap the published pointer.
type Document struct {
	// Path is the absolute resource path, always starting with "/".
	Path string

	// Root is the document node produced by the parser. Its descendants
	// include the doctype and the <html> element.
	Root *html.Node

	generation string
	rev        int64
	touched    map[*html.Node]int64
}

// Parse reads a full document from r and assigns a fresh generation id.
// The parser normalizes markup the way browsers do (implied html/head/body).
func Parse(path string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Document{
		Path:       path,
		Root:       root,
		generation: uuid.NewString()[:8],
		touched:    make(map[*html.Node]int64),
	}, nil
}

// ParseString parses a full document from a string.
func ParseString(path, markup string) (*Document, error) {
	return Parse(path, strings.NewReader(markup))
}

// Render writes the document's current representation to w.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

// RenderString returns the document's current representation.
func (d *Document) RenderString() (string, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderNode returns the representation of a single node subtree.
func RenderNode(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Revision returns the document's mutation counter.
func (d *Document) Revision() int64 {
	return d.rev
}

// VersionTag returns the opaque version tag for a node, suitable for use as
// an entity tag. Tags embed the load generation and the revision at which the
// node was last touched, so two tags for the same node are distinguishable
// across any committed mutation.
func (d *Document) VersionTag(n *html.Node) string {
	return fmt.Sprintf("%q", fmt.Sprintf("g%s.%d", d.generation, d.touched[n]))
}

// Touch records that a node was modified at the next revision. Mutation
// executors call this once per committed change.
func (d *Document) Touch(n *html.Node) {
	d.rev++
	if d.touched == nil {
		d.touched = make(map[*html.Node]int64)
	}
	d.touched[n] = d.rev
}

// Clone returns a deep copy of the document, including version bookkeeping.
func (d *Document) Clone() *Document {
	mapping := make(map[*html.Node]*html.Node)
	root := cloneTree(d.Root, mapping)
	touched := make(map[*html.Node]int64, len(d.touched))
	for n, rev := range d.touched {
		if cn, ok := mapping[n]; ok {
			touched[cn] = rev
		}
	}
	return &Document{
		Path:       d.Path,
		Root:       root,
		generation: d.generation,
		rev:        d.rev,
		touched:    touched,
	}
}

// CloneNode returns a deep, detached copy of a single node subtree.
func CloneNode(n *html.Node) *html.Node {
	return cloneTree(n, nil)
}

func cloneTree(n *html.Node, mapping map[*html.Node]*html.Node) *html.Node {
	cp := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if mapping != nil {
		mapping[n] = cp
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cp.AppendChild(cloneTree(c, mapping))
	}
	return cp
}

// ReplaceNode swaps old for repl in the tree and touches repl. The old node's
// entire subtree is discarded: children absent from the incoming
// representation are gone. Old must not be the document node itself.
func (d *Document) ReplaceNode(old, repl *html.Node) error {
	if old.Parent == nil {
		return fmt.Errorf("cannot replace detached node")
	}
	old.Parent.InsertBefore(repl, old)
	old.Parent.RemoveChild(old)
	d.Touch(repl)
	return nil
}

// AppendChild inserts child as the last child of container and touches child.
// Position is fixed: appends always land last, regardless of caller intent.
func (d *Document) AppendChild(container, child *html.Node) {
	container.AppendChild(child)
	d.Touch(child)
}

// RemoveNode detaches n and its descendants from the tree and touches the
// former parent.
func (d *Document) RemoveNode(n *html.Node) error {
	if n.Parent == nil {
		return fmt.Errorf("cannot remove detached node")
	}
	parent := n.Parent
	parent.RemoveChild(n)
	d.Touch(parent)
	return nil
}

// Body returns the document's <body> element, or nil for malformed trees.
func (d *Document) Body() *html.Node {
	return findElement(d.Root, atom.Body)
}

// HTMLElement returns the document's <html> element.
func (d *Document) HTMLElement() *html.Node {
	return findElement(d.Root, atom.Html)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Elements returns every element node in document order.
func (d *Document) Elements() []*html.Node {
	var out []*html.Node
	walkElements(d.Root, func(n *html.Node) {
		out = append(out, n)
	})
	return out
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries the named attribute.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces the named attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// ID returns the node's id attribute, or "".
func ID(n *html.Node) string {
	return Attr(n, "id")
}

// Text returns the concatenated text content of a subtree, trimmed.
func Text(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}

// Contains reports whether target is n itself or a descendant of n.
func Contains(n, target *html.Node) bool {
	for cur := target; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// CanonicalSelector derives the minimal stable selector for a node: its id
// when present, otherwise an index path anchored at the nearest ancestor that
// carries an id (or the html element when none does). Re-evaluating the
// result against a structurally unchanged document yields exactly this node.
func (d *Document) CanonicalSelector(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if id := ID(n); id != "" {
		return "#" + id
	}
	var segs []string
	cur := n
	for {
		parent := cur.Parent
		if parent == nil || parent.Type == html.DocumentNode {
			// cur is the html element (or an orphan); anchor on the tag.
			return joinPath(cur.Data, segs)
		}
		segs = append([]string{fmt.Sprintf(":nth-child(%d)", elementIndex(cur))}, segs...)
		if id := ID(parent); id != "" {
			return joinPath("#"+id, segs)
		}
		if parent.Type == html.ElementNode && parent.DataAtom == atom.Html {
			return joinPath("html", segs)
		}
		cur = parent
	}
}

func joinPath(anchor string, segs []string) string {
	if len(segs) == 0 {
		return anchor
	}
	return anchor + " > " + strings.Join(segs, " > ")
}

// elementIndex returns the 1-based position of n among its element siblings,
// matching :nth-child counting.
func elementIndex(n *html.Node) int {
	idx := 1
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib == n {
			return idx
		}
		if sib.Type == html.ElementNode {
			idx++
		}
	}
	return idx
}
