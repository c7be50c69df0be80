package doc

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFragment parses markup as it would appear inside the given context
// element. The returned nodes are detached. A nil context parses as body
// content.
func ParseFragment(markup string, context *html.Node) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	if context != nil && context.Type == html.ElementNode {
		// The fragment parser only consults the context's tag, so hand it a
		// detached stand-in rather than a node wired into a live tree.
		ctx = &html.Node{
			Type:      html.ElementNode,
			DataAtom:  context.DataAtom,
			Data:      context.Data,
			Namespace: context.Namespace,
		}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// ParseElement parses markup that must contain exactly one element node,
// ignoring surrounding whitespace. This is the representation accepted for
// node replace and child append.
func ParseElement(markup string, context *html.Node) (*html.Node, error) {
	nodes, err := ParseFragment(markup, context)
	if err != nil {
		return nil, err
	}
	var elem *html.Node
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if elem != nil {
				return nil, fmt.Errorf("representation contains more than one element")
			}
			elem = n
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				return nil, fmt.Errorf("representation contains stray text outside the element")
			}
		}
	}
	if elem == nil {
		return nil, fmt.Errorf("representation contains no element")
	}
	return elem, nil
}
