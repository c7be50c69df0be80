package app

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/alistaircroll/pagelove/domain/compose"
	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/request"
	"github.com/alistaircroll/pagelove/domain/rule"
	"github.com/alistaircroll/pagelove/domain/selector"
	"github.com/alistaircroll/pagelove/domain/shape"
	"github.com/alistaircroll/pagelove/ports"
)

// errAborted carries an already-classified failure out of a store Update
// callback. The ErrorResponse travels alongside it in a closure variable.
var errAborted = errors.New("request aborted")

// Engine is the document pipeline: authorization, shape validation, mutation
// and composition behind the verb operations. All state lives in the store
// and the policy index; Engine itself is stateless per request.
type Engine struct {
	store   ports.DocumentStore
	policy  *PolicyIndex
	clock   ports.Clock
	ids     ports.IDGenerator
	logger  zerolog.Logger
	metrics Metrics

	admins      map[string]struct{}
	adminGroup  string
	composeOpts compose.Options
}

// EngineConfig contains configuration for Engine.
type EngineConfig struct {
	Admins          []string // actor names with unconditional access
	AdminGroup      string   // group whose members are admins; optional
	MaxIncludeDepth int
}

// NewEngine creates the document engine.
func NewEngine(store ports.DocumentStore, policy *PolicyIndex, clock ports.Clock, ids ports.IDGenerator, logger zerolog.Logger, metrics Metrics, cfg EngineConfig) *Engine {
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[a] = struct{}{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Engine{
		store:       store,
		policy:      policy,
		clock:       clock,
		ids:         ids,
		logger:      logger.With().Str("service", "engine").Logger(),
		metrics:     metrics,
		admins:      admins,
		adminGroup:  cfg.AdminGroup,
		composeOpts: compose.Options{MaxIncludeDepth: cfg.MaxIncludeDepth},
	}
}

// Get serves a whole document (post-composition) or a single node scoped by
// the request selector.
func (e *Engine) Get(ctx context.Context, req request.Request) (request.Response, *request.ErrorResponse) {
	rules, _, err := e.policy.Current(ctx)
	if err != nil {
		return request.Response{}, e.fault(req, err)
	}
	admin := e.isAdmin(req, rules)

	// The rule document never leaks to non-admins, whatever the rules say.
	if req.Path == e.policy.RuleDoc() && !admin {
		return request.Response{}, e.deny(req)
	}

	d, err := e.store.Get(ctx, req.Path)
	if err != nil {
		return request.Response{}, e.storeFailure(req, err)
	}

	if req.Selector == "" {
		if !admin && rules.Decide(e.query(req, "GET", d.HTMLElement(), d.Root)) != rule.Allow {
			return request.Response{}, e.deny(req)
		}
		composed, errResp := e.compose(ctx, d, req)
		if errResp != nil {
			return request.Response{}, errResp
		}
		body, err := composed.RenderString()
		if err != nil {
			return request.Response{}, e.fault(req, err)
		}
		return request.Response{
			Status:      200,
			Body:        []byte(body),
			ContentType: "text/html; charset=utf-8",
		}, nil
	}

	target, errResp := e.resolveTarget(d, req.Selector)
	if errResp != nil {
		return request.Response{}, errResp
	}
	if !admin && rules.Decide(e.query(req, "GET", target, d.Root)) != rule.Allow {
		return request.Response{}, e.deny(req)
	}
	body, err := doc.RenderNode(target)
	if err != nil {
		return request.Response{}, e.fault(req, err)
	}
	return request.Response{
		Status:       206,
		Body:         []byte(body),
		ContentType:  "text/html; charset=utf-8",
		ContentRange: d.CanonicalSelector(target),
		ETag:         d.VersionTag(target),
	}, nil
}

// Put replaces the addressed node's whole subtree, or creates/replaces the
// whole document when no selector is given.
func (e *Engine) Put(ctx context.Context, req request.Request) (request.Response, *request.ErrorResponse) {
	rules, constraints, err := e.policy.Current(ctx)
	if err != nil {
		return request.Response{}, e.fault(req, err)
	}
	admin := e.isAdmin(req, rules)

	if req.Selector == "" {
		return e.putDocument(ctx, req, rules, constraints, admin)
	}

	var resp request.Response
	var fail *request.ErrorResponse
	err = e.store.Update(ctx, req.Path, func(d *doc.Document) error {
		target, errResp := e.resolveTarget(d, req.Selector)
		if errResp != nil {
			fail = errResp
			return errAborted
		}
		if !admin && rules.Decide(e.query(req, "PUT", target, d.Root)) != rule.Allow {
			fail = e.deny(req)
			return errAborted
		}
		if req.IfMatch != "" && req.IfMatch != d.VersionTag(target) {
			fail = errPtr(request.ErrVersionConflict)
			return errAborted
		}
		repl, err := doc.ParseElement(req.Body, target.Parent)
		if err != nil {
			fail = errPtr(request.ErrMalformed)
			return errAborted
		}
		if err := d.ReplaceNode(target, repl); err != nil {
			fail = errPtr(request.ErrMalformed)
			return errAborted
		}
		if v := shape.CheckSubtree(constraints, req.Path, d, repl); v != nil {
			fail = e.violation(req, v)
			return errAborted
		}
		resp = request.Response{
			Status:       206,
			ContentType:  "text/html; charset=utf-8",
			ContentRange: d.CanonicalSelector(repl),
			ETag:         d.VersionTag(repl),
		}
		body, err := doc.RenderNode(repl)
		if err != nil {
			return err
		}
		resp.Body = []byte(body)
		return nil
	})
	if fail != nil {
		return request.Response{}, fail
	}
	if err != nil {
		return request.Response{}, e.storeFailure(req, err)
	}
	e.metrics.MutationCommitted("PUT")
	return resp, nil
}

// putDocument handles direct-mode creation: a whole-document PUT to a
// caller-chosen path, gated by a single authorization check on that path.
func (e *Engine) putDocument(ctx context.Context, req request.Request, rules *rule.Compiled, constraints []shape.Constraint, admin bool) (request.Response, *request.ErrorResponse) {
	if !admin {
		// Authorize against the document being replaced; a fresh path has no
		// tree for selector-scoped rules to fire on.
		var target, root *html.Node
		if existing, err := e.store.Get(ctx, req.Path); err == nil {
			root = existing.Root
			target = existing.HTMLElement()
		}
		if rules.Decide(e.query(req, "PUT", target, root)) != rule.Allow {
			return request.Response{}, e.deny(req)
		}
	}

	d, err := doc.ParseString(req.Path, req.Body)
	if err != nil {
		return request.Response{}, errPtr(request.ErrMalformed)
	}
	root := d.HTMLElement()
	if root == nil {
		return request.Response{}, errPtr(request.ErrMalformed)
	}
	d.Touch(root)
	if v := shape.CheckSubtree(constraints, req.Path, d, root); v != nil {
		return request.Response{}, e.violation(req, v)
	}
	if err := e.store.Put(ctx, d); err != nil {
		return request.Response{}, e.storeFailure(req, err)
	}
	e.metrics.MutationCommitted("PUT")
	e.countDocuments(ctx)
	return request.Response{
		Status:      206,
		ContentType: "text/html; charset=utf-8",
		ETag:        d.VersionTag(root),
	}, nil
}

// Post appends a child to the addressed container. Without a selector the
// posted element lands at the end of <body>, unless the target document is a
// template declaring a storage path, in which case Post renders it and
// creates a new document there (templated creation).
func (e *Engine) Post(ctx context.Context, req request.Request) (request.Response, *request.ErrorResponse) {
	rules, constraints, err := e.policy.Current(ctx)
	if err != nil {
		return request.Response{}, e.fault(req, err)
	}
	admin := e.isAdmin(req, rules)

	if req.Selector == "" {
		d, err := e.store.Get(ctx, req.Path)
		if err != nil {
			return request.Response{}, e.storeFailure(req, err)
		}
		// A document declaring its own storage path is a creation template.
		if compose.DeclaredPath(d) != "" {
			return e.postTemplate(ctx, req, d, rules, constraints, admin)
		}
	}

	sel := req.Selector
	if sel == "" {
		sel = "body"
	}

	var resp request.Response
	var fail *request.ErrorResponse
	err = e.store.Update(ctx, req.Path, func(d *doc.Document) error {
		container, errResp := e.resolveTarget(d, sel)
		if errResp != nil {
			fail = errResp
			return errAborted
		}
		if !admin && rules.Decide(e.query(req, "POST", container, d.Root)) != rule.Allow {
			fail = e.deny(req)
			return errAborted
		}
		if req.IfMatch != "" && req.IfMatch != d.VersionTag(container) {
			fail = errPtr(request.ErrVersionConflict)
			return errAborted
		}
		child, err := doc.ParseElement(req.Body, container)
		if err != nil {
			fail = errPtr(request.ErrMalformed)
			return errAborted
		}
		// An anonymous child gets a generated id so it stays addressable
		// after later appends shift its position.
		if e.ids != nil && doc.ID(child) == "" {
			doc.SetAttr(child, "id", e.ids.New())
		}
		d.AppendChild(container, child)
		if v := shape.CheckSubtree(constraints, req.Path, d, container); v != nil {
			fail = e.violation(req, v)
			return errAborted
		}
		resp = request.Response{
			Status:       206,
			ContentType:  "text/html; charset=utf-8",
			ContentRange: d.CanonicalSelector(child),
			ETag:         d.VersionTag(child),
		}
		body, err := doc.RenderNode(child)
		if err != nil {
			return err
		}
		resp.Body = []byte(body)
		return nil
	})
	if fail != nil {
		return request.Response{}, fail
	}
	if err != nil {
		return request.Response{}, e.storeFailure(req, err)
	}
	e.metrics.MutationCommitted("POST")
	return resp, nil
}

// postTemplate implements templated creation: render the template with the
// request context, read the declared path, authorize again as a PUT on that
// path, and create the document there.
func (e *Engine) postTemplate(ctx context.Context, req request.Request, tmpl *doc.Document, rules *rule.Compiled, constraints []shape.Constraint, admin bool) (request.Response, *request.ErrorResponse) {
	if !admin && rules.Decide(e.query(req, "POST", tmpl.HTMLElement(), tmpl.Root)) != rule.Allow {
		return request.Response{}, e.deny(req)
	}

	rendered, errResp := e.compose(ctx, tmpl, req)
	if errResp != nil {
		return request.Response{}, errResp
	}
	newPath := compose.DeclaredPath(rendered)
	if newPath == "" || !strings.HasPrefix(newPath, "/") {
		return request.Response{}, e.fault(req, errors.New("template declares no storage path"))
	}

	// Second gate: writing the rendered document is a PUT on its own path.
	if !admin && rules.Decide(rule.Query{Actor: req.Actor, Path: newPath, Method: "PUT"}) != rule.Allow {
		return request.Response{}, e.deny(req)
	}

	rendered.Path = newPath
	root := rendered.HTMLElement()
	if root == nil {
		return request.Response{}, errPtr(request.ErrMalformed)
	}
	rendered.Touch(root)
	if v := shape.CheckSubtree(constraints, newPath, rendered, root); v != nil {
		return request.Response{}, e.violation(req, v)
	}
	if err := e.store.Create(ctx, rendered); err != nil {
		if errors.Is(err, ports.ErrDocumentExists) {
			return request.Response{}, errPtr(request.ErrAlreadyExists)
		}
		return request.Response{}, e.storeFailure(req, err)
	}
	e.metrics.MutationCommitted("POST")
	e.countDocuments(ctx)
	return request.Response{
		Status:   201,
		Location: newPath,
		ETag:     rendered.VersionTag(root),
	}, nil
}

// Delete removes the addressed node and its subtree, or the whole document
// when no selector is given.
func (e *Engine) Delete(ctx context.Context, req request.Request) (request.Response, *request.ErrorResponse) {
	rules, constraints, err := e.policy.Current(ctx)
	if err != nil {
		return request.Response{}, e.fault(req, err)
	}
	admin := e.isAdmin(req, rules)

	if req.Selector == "" {
		d, err := e.store.Get(ctx, req.Path)
		if err != nil {
			return request.Response{}, e.storeFailure(req, err)
		}
		if !admin && rules.Decide(e.query(req, "DELETE", d.HTMLElement(), d.Root)) != rule.Allow {
			return request.Response{}, e.deny(req)
		}
		if err := e.store.Delete(ctx, req.Path); err != nil {
			return request.Response{}, e.storeFailure(req, err)
		}
		e.metrics.MutationCommitted("DELETE")
		e.countDocuments(ctx)
		return request.Response{Status: 204}, nil
	}

	var fail *request.ErrorResponse
	err = e.store.Update(ctx, req.Path, func(d *doc.Document) error {
		target, errResp := e.resolveTarget(d, req.Selector)
		if errResp != nil {
			fail = errResp
			return errAborted
		}
		if !admin && rules.Decide(e.query(req, "DELETE", target, d.Root)) != rule.Allow {
			fail = e.deny(req)
			return errAborted
		}
		if req.IfMatch != "" && req.IfMatch != d.VersionTag(target) {
			fail = errPtr(request.ErrVersionConflict)
			return errAborted
		}
		ancestors := elementAncestors(target)
		if err := d.RemoveNode(target); err != nil {
			fail = errPtr(request.ErrMalformed)
			return errAborted
		}
		if v := shape.CheckDeleted(constraints, req.Path, d, ancestors); v != nil {
			fail = errPtr(request.ErrWouldViolateShape)
			return errAborted
		}
		return nil
	})
	if fail != nil {
		return request.Response{}, fail
	}
	if err != nil {
		return request.Response{}, e.storeFailure(req, err)
	}
	e.metrics.MutationCommitted("DELETE")
	return request.Response{Status: 204}, nil
}

// Capability pairs a canonical selector with the methods the actor may use
// on the node it addresses.
type Capability struct {
	Selector string
	Methods  []string
}

// Capabilities enumerates, in one pass over the document's nodes, every
// canonical selector with a non-empty allowed-method set for the actor.
// Nothing is cached across requests; rule edits change the next answer.
func (e *Engine) Capabilities(ctx context.Context, req request.Request) ([]Capability, *request.ErrorResponse) {
	rules, _, err := e.policy.Current(ctx)
	if err != nil {
		return nil, e.fault(req, err)
	}
	admin := e.isAdmin(req, rules)

	d, err := e.store.Get(ctx, req.Path)
	if err != nil {
		return nil, e.storeFailure(req, err)
	}
	if !admin && rules.Decide(e.query(req, "OPTIONS", d.HTMLElement(), d.Root)) != rule.Allow {
		return nil, e.deny(req)
	}

	var caps []Capability
	seen := make(map[string]struct{})
	for _, n := range d.Elements() {
		sel := d.CanonicalSelector(n)
		if sel == "" {
			continue
		}
		if _, dup := seen[sel]; dup {
			continue
		}
		seen[sel] = struct{}{}

		var methods []string
		if admin {
			methods = []string{"GET", "PUT", "POST", "DELETE"}
		} else {
			methods = rules.AllowedMethods(req.Actor, req.Path, n, d.Root)
		}
		if len(methods) == 0 {
			continue
		}
		sort.Strings(methods)
		caps = append(caps, Capability{Selector: sel, Methods: methods})
	}
	return caps, nil
}

// --- helpers ---

func (e *Engine) query(req request.Request, method string, target, root *html.Node) rule.Query {
	return rule.Query{
		Actor:  req.Actor,
		Path:   req.Path,
		Method: method,
		Target: target,
		Root:   root,
	}
}

func (e *Engine) isAdmin(req request.Request, rules *rule.Compiled) bool {
	if req.Admin {
		return true
	}
	if _, ok := e.admins[req.Actor]; ok {
		return true
	}
	return e.adminGroup != "" && rules.MemberOf(req.Actor, e.adminGroup)
}

// resolveTarget resolves a request selector against a document. The first
// match in document order is authoritative for single-target verbs.
func (e *Engine) resolveTarget(d *doc.Document, sel string) (*html.Node, *request.ErrorResponse) {
	target, err := selector.ResolveFirst(d.Root, sel)
	if errors.Is(err, selector.ErrNoMatch) {
		return nil, errPtr(request.ErrSelectorNoMatch)
	}
	if err != nil {
		return nil, errPtr(request.ErrInvalidSelector)
	}
	return target, nil
}

// redactedStore hides one path from composition scope. Includes and bindings
// evaluate store-wide, so without this a page anyone can read could pull rule
// markup into itself and sidestep the rule document's access check.
type redactedStore struct {
	snap   ports.Snapshot
	hidden string
}

func (s redactedStore) Paths() []string {
	var out []string
	for _, p := range s.snap.Paths() {
		if p != s.hidden {
			out = append(out, p)
		}
	}
	return out
}

func (s redactedStore) Document(path string) (*doc.Document, bool) {
	if path == s.hidden {
		return nil, false
	}
	return s.snap.Document(path)
}

// compose runs server-side composition over a store snapshot with the rule
// document redacted.
func (e *Engine) compose(ctx context.Context, d *doc.Document, req request.Request) (*doc.Document, *request.ErrorResponse) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, e.fault(req, err)
	}
	start := e.clock.Now()
	out, err := compose.Compose(redactedStore{snap: snap, hidden: e.policy.RuleDoc()}, d, compose.Request{
		Method: req.Method,
		Query:  req.Query,
		Body:   req.Body,
		Actor:  req.Actor,
	}, e.composeOpts)
	e.metrics.ComposeDuration(e.clock.Now().Sub(start))
	if err != nil {
		switch {
		case errors.Is(err, selector.ErrNoMatch):
			return nil, errPtr(request.ErrNotFound)
		case errors.Is(err, selector.ErrAmbiguous):
			return nil, errPtr(request.ErrAmbiguous)
		default:
			e.logger.Error().Err(err).Str("path", d.Path).Msg("composition failed")
			return nil, errPtr(request.ErrCompositionFailure)
		}
	}
	return out, nil
}

func (e *Engine) deny(req request.Request) *request.ErrorResponse {
	e.metrics.AuthorizationDenied(req.Method)
	e.logger.Debug().
		Str("actor", req.Actor).
		Str("method", req.Method).
		Str("path", req.Path).
		Str("selector", req.Selector).
		Msg("request denied")
	return errPtr(request.ErrUnauthorized)
}

func (e *Engine) violation(req request.Request, v *shape.Violation) *request.ErrorResponse {
	e.logger.Debug().
		Str("path", req.Path).
		Str("constraint", v.ConstraintSelector).
		Str("require", v.FailedRequire).
		Msg("shape violation")
	er := request.ErrShapeViolation
	er.Message = v.Error()
	return &er
}

func (e *Engine) fault(req request.Request, err error) *request.ErrorResponse {
	e.logger.Error().Err(err).Str("path", req.Path).Str("method", req.Method).Msg("request failed")
	return errPtr(request.ErrInternal)
}

// countDocuments refreshes the stored-documents gauge after a create or
// delete. Best effort; a failed snapshot leaves the gauge stale.
func (e *Engine) countDocuments(ctx context.Context) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return
	}
	e.metrics.DocumentCount(len(snap.Paths()))
}

func (e *Engine) storeFailure(req request.Request, err error) *request.ErrorResponse {
	if errors.Is(err, ports.ErrDocumentNotFound) {
		return errPtr(request.ErrNotFound)
	}
	return e.fault(req, err)
}

func errPtr(er request.ErrorResponse) *request.ErrorResponse {
	return &er
}

// elementAncestors returns the element ancestor chain, nearest first.
func elementAncestors(n *html.Node) []*html.Node {
	var out []*html.Node
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode {
			out = append(out, cur)
		}
	}
	return out
}
