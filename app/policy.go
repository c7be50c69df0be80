// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/domain/rule"
	"github.com/alistaircroll/pagelove/domain/shape"
	"github.com/alistaircroll/pagelove/ports"
)

// PolicyIndex compiles the rule document and the store's shape constraints
// into an in-memory index. The index is rebuilt when the store revision moves,
// rechecked at most once per RecheckInterval, so rule-document edits reach
// enforcement within a small bounded window rather than instantaneously.
type PolicyIndex struct {
	store  ports.DocumentStore
	clock  ports.Clock
	logger zerolog.Logger

	ruleDoc string
	recheck time.Duration
	rebuild sync.Mutex
	cache   atomic.Pointer[policyState]
}

// policyState is one compiled snapshot of authorization material.
type policyState struct {
	rules       *rule.Compiled
	constraints []shape.Constraint
	revision    int64
	checkedAt   time.Time
}

// PolicyIndexConfig contains configuration for PolicyIndex.
type PolicyIndexConfig struct {
	RuleDoc         string        // path of the rule document
	RecheckInterval time.Duration // how often staleness is rechecked
}

// NewPolicyIndex creates a policy index over a document store.
func NewPolicyIndex(store ports.DocumentStore, clock ports.Clock, logger zerolog.Logger, cfg PolicyIndexConfig) *PolicyIndex {
	if cfg.RuleDoc == "" {
		cfg.RuleDoc = "/auth.html"
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = 2 * time.Second
	}
	return &PolicyIndex{
		store:   store,
		clock:   clock,
		logger:  logger.With().Str("service", "policy").Logger(),
		ruleDoc: cfg.RuleDoc,
		recheck: cfg.RecheckInterval,
	}
}

// RuleDoc returns the configured rule document path.
func (p *PolicyIndex) RuleDoc() string {
	return p.ruleDoc
}

// Current returns the compiled rules and constraints, rebuilding first if the
// store has moved past the cached revision.
func (p *PolicyIndex) Current(ctx context.Context) (*rule.Compiled, []shape.Constraint, error) {
	now := p.clock.Now()
	st := p.cache.Load()
	if st != nil && (now.Sub(st.checkedAt) < p.recheck || p.store.Revision() == st.revision) {
		return st.rules, st.constraints, nil
	}

	p.rebuild.Lock()
	defer p.rebuild.Unlock()

	// Another request may have rebuilt while we waited.
	if st = p.cache.Load(); st != nil && p.store.Revision() == st.revision {
		refreshed := *st
		refreshed.checkedAt = now
		p.cache.Store(&refreshed)
		return st.rules, st.constraints, nil
	}

	snap, err := p.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	var ruleDoc *doc.Document
	if d, ok := snap.Document(p.ruleDoc); ok {
		ruleDoc = d
	}
	compiled := rule.Compile(rule.ParsePolicy(ruleDoc))

	// Constraints live in any document, not just the rule document.
	var all []*doc.Document
	for _, path := range snap.Paths() {
		if d, ok := snap.Document(path); ok {
			all = append(all, d)
		}
	}
	constraints := shape.ParseConstraints(all...)

	st = &policyState{
		rules:       compiled,
		constraints: constraints,
		revision:    snap.Revision(),
		checkedAt:   now,
	}
	p.cache.Store(st)

	p.logger.Debug().
		Int64("revision", st.revision).
		Int("rules", compiled.Len()).
		Int("skipped", compiled.Skipped()).
		Int("constraints", len(constraints)).
		Msg("policy index rebuilt")
	return st.rules, st.constraints, nil
}
