package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"orderflow.app/engine/common/logger"
	"orderflow.app/engine/internal/model"
)

// ErrDocumentNotFound is returned by a Source when no rule document exists
// for the domain key. The loader falls back to the built-in default ruleset
// so a fresh deployment behaves deterministically without manual seeding.
var ErrDocumentNotFound = errors.New("rule document not found")

// Source fetches the raw rule document for a domain key from the external
// rule-document collaborator.
type Source interface {
	Fetch(ctx context.Context, domainKey string) (*model.RuleSet, error)
}

// Resolver is what the dispatcher depends on.
type Resolver interface {
	Resolve(ctx context.Context, domainKey string) (*model.RuleSet, error)
	Invalidate(domainKey string)
}

// Loader caches validated ruleset projections per domain key. Rulesets are
// immutable once published; refresh swaps the cache entry atomically
// (copy-on-write), so concurrent readers never observe a partial update.
// On fetch failure the last-known-good ruleset is served stale: availability
// of conversation flow is prioritized over rule freshness.
type Loader struct {
	source Source
	ttl    time.Duration

	cache sync.Map // domainKey -> *model.RuleSet
	mu    sync.Mutex
}

func NewLoader(source Source, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Loader{source: source, ttl: ttl}
}

var _ Resolver = (*Loader)(nil)

// Resolve returns the active ruleset for the domain key.
// Never returns an error for source failures: those degrade to the cached or
// default ruleset with a warning.
func (l *Loader) Resolve(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "engine.rules.loader"})

	if v, ok := l.cache.Load(domainKey); ok {
		rs := v.(*model.RuleSet)
		if time.Since(rs.FetchedAt) < l.ttl {
			return rs, nil
		}
	}

	// Single-flight refresh; losers pick up the winner's entry.
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.cache.Load(domainKey); ok {
		rs := v.(*model.RuleSet)
		if time.Since(rs.FetchedAt) < l.ttl {
			return rs, nil
		}
	}

	rs, err := l.fetchValidated(ctx, domainKey)
	if err != nil {
		if v, ok := l.cache.Load(domainKey); ok {
			// Serve stale: mark the projection degraded, keep processing.
			stale := *(v.(*model.RuleSet))
			stale.Degraded = true
			slog.WarnContext(ctx, "rule source degraded, serving stale ruleset",
				"domain_key", domainKey,
				"etag", stale.ETag,
				"error", err)
			l.cache.Store(domainKey, &stale)
			return &stale, nil
		}

		slog.WarnContext(ctx, "rule source unavailable, using default ruleset",
			"domain_key", domainKey,
			"error", err)
		def := DefaultRuleSet(domainKey)
		def.FetchedAt = time.Now()
		l.cache.Store(domainKey, def)
		return def, nil
	}

	l.cache.Store(domainKey, rs)
	return rs, nil
}

// Invalidate forces a refresh on the next Resolve by expiring the cache
// entry. The stale projection stays available for degraded serving.
func (l *Loader) Invalidate(domainKey string) {
	if v, ok := l.cache.Load(domainKey); ok {
		expired := *(v.(*model.RuleSet))
		expired.FetchedAt = time.Time{}
		l.cache.Store(domainKey, &expired)
	}
}

func (l *Loader) fetchValidated(ctx context.Context, domainKey string) (*model.RuleSet, error) {
	if l.source == nil {
		return nil, ErrDocumentNotFound
	}

	fetched, err := l.source.Fetch(ctx, domainKey)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			// Empty store on first run: synthesize the built-in default.
			def := DefaultRuleSet(domainKey)
			def.FetchedAt = time.Now()
			return def, nil
		}
		return nil, err
	}

	if err := Validate(fetched); err != nil {
		// A broken document must not take down message processing.
		return nil, fmt.Errorf("validating ruleset %s (etag %s): %w", domainKey, fetched.ETag, err)
	}

	sortRules(fetched.Rules)
	fetched.FetchedAt = time.Now()
	fetched.Degraded = false
	return fetched, nil
}

// Validate checks structure at load time: every rule has an ID, a non-empty
// trigger predicate and exactly one well-formed action.
func Validate(rs *model.RuleSet) error {
	if rs == nil || len(rs.Rules) == 0 {
		return fmt.Errorf("ruleset has no rules")
	}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("rule %q: duplicate id", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if err := rule.Trigger.Compile(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		if err := rule.Action.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	return nil
}

// sortRules orders by descending priority, ties broken by ascending ID so
// evaluation is deterministic.
func sortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
