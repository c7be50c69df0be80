// Package compose implements server-side document composition: fragment
// inclusion, site-wide resource bindings, and template rendering. It is a
// read-time transform over a cloned tree and never mutates stored state.
//
// Rendering is deterministic and side-effect free: templates are stdlib
// html/template bodies with no registered functions, so they cannot reach
// I/O or mutate documents; identical store state yields identical output.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/html"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/selector"
)

// Store is the read-only store-wide view composition evaluates against: an
// explicit snapshot taken per request, never a live mutable global.
type Store interface {
	// Paths returns every document path in sorted order.
	Paths() []string
	// Document returns the stored document for a path.
	Document(path string) (*doc.Document, bool)
}

// Request carries the request metadata templates may consume.
type Request struct {
	Method string
	Query  url.Values
	Body   string
	Actor  string
}

// Options tunes composition behavior.
type Options struct {
	// MaxIncludeDepth bounds nested include resolution; a document whose
	// includes have not settled after this many passes is treated as cyclic.
	MaxIncludeDepth int
}

// DefaultMaxIncludeDepth is used when Options leaves the bound unset.
const DefaultMaxIncludeDepth = 8

// ErrIncludeCycle reports includes that never settle.
var ErrIncludeCycle = errors.New("include resolution did not settle (cycle?)")

// Bound is one node captured by a resource binding, exposed to templates.
type Bound struct {
	Path     string        // document the node came from
	Selector string        // canonical selector within that document
	Text     string        // text content
	HTML     template.HTML // full markup of the node
	Attrs    map[string]string
}

// Data is the input handed to every template body.
type Data struct {
	Bindings map[string][]Bound
	Method   string
	Query    url.Values
	Body     string
	Actor    string
}

// Compose resolves includes, evaluates bindings, and renders templates on a
// clone of d. On any failure the request fails rather than rendering partial
// output.
func Compose(store Store, d *doc.Document, req Request, opts Options) (*doc.Document, error) {
	out := d.Clone()
	if err := resolveIncludes(store, out, opts); err != nil {
		return nil, err
	}
	bindings, err := evalBindings(store, out)
	if err != nil {
		return nil, err
	}
	if err := renderTemplates(out, bindings, req); err != nil {
		return nil, err
	}
	return out, nil
}

// DeclaredPath returns the storage path a document declares via
// <meta name="document-path" content="...">, or "". Templated creation uses
// this to learn where the rendered document intends to live.
func DeclaredPath(d *doc.Document) string {
	metas, err := selector.Resolve(d.Root, `meta[name="document-path"]`)
	if err != nil || len(metas) == 0 {
		return ""
	}
	return doc.Attr(metas[0], "content")
}

// resolveIncludes replaces every element carrying data-include with the one
// node its selector resolves to. Cardinality is strict: zero matches is
// not-found, more than one is a server fault. Passes repeat so included
// fragments may themselves include, bounded by MaxIncludeDepth.
func resolveIncludes(store Store, d *doc.Document, opts Options) error {
	depth := opts.MaxIncludeDepth
	if depth <= 0 {
		depth = DefaultMaxIncludeDepth
	}
	for i := 0; i < depth; i++ {
		directives, err := selector.Resolve(d.Root, "[data-include]")
		if err != nil {
			return err
		}
		if len(directives) == 0 {
			return nil
		}
		for _, directive := range directives {
			if err := resolveInclude(store, d, directive); err != nil {
				return err
			}
		}
	}
	remaining, _ := selector.Resolve(d.Root, "[data-include]")
	if len(remaining) > 0 {
		return ErrIncludeCycle
	}
	return nil
}

func resolveInclude(store Store, d *doc.Document, directive *html.Node) error {
	sel := doc.Attr(directive, "data-include")
	pattern := doc.Attr(directive, "data-include-resource")

	match, err := resolveAcrossStore(store, sel, pattern)
	if err != nil {
		return fmt.Errorf("include %q: %w", sel, err)
	}
	repl := doc.CloneNode(match)
	directive.Parent.InsertBefore(repl, directive)
	directive.Parent.RemoveChild(directive)
	return nil
}

// resolveAcrossStore evaluates sel over every document whose path matches
// pattern (the whole store when pattern is empty) and enforces strict
// cardinality over the combined match set.
func resolveAcrossStore(store Store, sel, pattern string) (*html.Node, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		g, err = glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid resource pattern %q: %w", pattern, err)
		}
	}
	var found *html.Node
	for _, path := range store.Paths() {
		if g != nil && !g.Match(path) {
			continue
		}
		src, ok := store.Document(path)
		if !ok {
			continue
		}
		matches, err := selector.Resolve(src.Root, sel)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if found != nil {
				// Ambiguous references are never silently resolved.
				return nil, selector.ErrAmbiguous
			}
			found = m
		}
	}
	if found == nil {
		return nil, selector.ErrNoMatch
	}
	return found, nil
}

// evalBindings collects the document's resource bindings and evaluates each
// named query across the entire store. Bindings are read-only sequences
// re-evaluated per request, never persisted.
func evalBindings(store Store, d *doc.Document) (map[string][]Bound, error) {
	decls, err := selector.Resolve(d.Root, "[data-binding]")
	if err != nil {
		return nil, err
	}
	bindings := make(map[string][]Bound)
	for _, decl := range decls {
		name := doc.Attr(decl, "data-binding")
		sel := doc.Attr(decl, "data-selector")
		if name == "" || sel == "" {
			return nil, fmt.Errorf("binding declaration missing name or selector")
		}
		var bound []Bound
		for _, path := range store.Paths() {
			src, ok := store.Document(path)
			if !ok {
				continue
			}
			matches, err := selector.Resolve(src.Root, sel)
			if err != nil {
				// Invalid binding selector fails the whole request.
				return nil, fmt.Errorf("binding %q: %w", name, err)
			}
			for _, m := range matches {
				markup, err := doc.RenderNode(m)
				if err != nil {
					return nil, err
				}
				attrs := make(map[string]string, len(m.Attr))
				for _, a := range m.Attr {
					attrs[a.Key] = a.Val
				}
				bound = append(bound, Bound{
					Path:     path,
					Selector: src.CanonicalSelector(m),
					Text:     doc.Text(m),
					HTML:     template.HTML(markup),
					Attrs:    attrs,
				})
			}
		}
		bindings[name] = bound
	}
	return bindings, nil
}

// renderTemplates executes every template body in the document. Template
// bodies live in <script data-template> elements so the markup inside stays
// raw text; the rendered fragment replaces the script element in the
// delivered representation.
func renderTemplates(d *doc.Document, bindings map[string][]Bound, req Request) error {
	scripts, err := selector.Resolve(d.Root, "script[data-template]")
	if err != nil {
		return err
	}
	data := Data{
		Bindings: bindings,
		Method:   req.Method,
		Query:    req.Query,
		Body:     req.Body,
		Actor:    req.Actor,
	}
	for _, script := range scripts {
		body := rawText(script)
		tmpl, err := template.New("fragment").Parse(body)
		if err != nil {
			return fmt.Errorf("template parse: %w", err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("template render: %w", err)
		}
		rendered, err := doc.ParseFragment(buf.String(), script.Parent)
		if err != nil {
			return err
		}
		for _, n := range rendered {
			script.Parent.InsertBefore(n, script)
		}
		script.Parent.RemoveChild(script)
	}
	return nil
}

// rawText returns the unparsed text content of a script element.
func rawText(n *html.Node) string {
	var buf strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			buf.WriteString(c.Data)
		}
	}
	return buf.String()
}
