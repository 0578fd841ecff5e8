package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/prosescan/prosescan/internal/runtime/cache"
)

// Rule is one linguistic rule: a pattern to flag and an optional rewrite
// template. Rewrite supports regexp capture references ($1, ${name}).
type Rule struct {
	ID      string
	Label   string
	Pattern string
	Rewrite string
}

// Ruleset is a versioned collection of rules. When Version is empty a
// content-derived version is assigned at compile time so any edit to the
// rules yields a distinct version.
type Ruleset struct {
	Version string
	Rules   []Rule
}

type compiledRule struct {
	id      string
	label   string
	pattern *regexp.Regexp
	rewrite string
}

type compiledRuleset struct {
	version string
	rules   []compiledRule
}

// RulesetEngine is the built-in Engine implementation: compiled regexp rules
// behind an atomically swapped pointer. One writer (Reload), many readers.
type RulesetEngine struct {
	current atomic.Pointer[compiledRuleset]
}

// NewRulesetEngine compiles the initial ruleset. An empty ruleset is legal;
// it scans to zero highlights under its (possibly derived) version.
func NewRulesetEngine(rs Ruleset) (*RulesetEngine, error) {
	e := &RulesetEngine{}
	if err := e.Reload(rs); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload compiles rs and swaps it in. On compile failure the previous ruleset
// stays active.
func (e *RulesetEngine) Reload(rs Ruleset) error {
	compiled, err := compileRuleset(rs)
	if err != nil {
		return err
	}
	e.current.Store(compiled)
	return nil
}

// CurrentVersion reads the active version without locking.
func (e *RulesetEngine) CurrentVersion() string {
	if c := e.current.Load(); c != nil {
		return c.version
	}
	return ""
}

// Scan matches every rule against text and emits highlights ascending by
// start offset. Overlaps are suppressed first-match-wins (earlier start, then
// longer span, then rule order) so the Highlight invariants hold. The version
// argument is the caller's observed version; matching always uses the active
// compiled ruleset, which is the documented mid-reload tie-break.
func (e *RulesetEngine) Scan(ctx context.Context, text, _ string) ([]cache.Highlight, error) {
	compiled := e.current.Load()
	if compiled == nil {
		return nil, ErrNoRuleset
	}

	type candidate struct {
		cache.Highlight
		order int
	}
	var candidates []candidate
	for order, rule := range compiled.rules {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("engine: scan aborted: %w", err)
		}
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			h := cache.Highlight{
				StartOffset: loc[0],
				EndOffset:   loc[1],
				RuleID:      rule.id,
				Label:       rule.label,
			}
			if rule.rewrite != "" {
				h.SuggestedRewrite = rule.pattern.ReplaceAllString(text[loc[0]:loc[1]], rule.rewrite)
			}
			candidates = append(candidates, candidate{Highlight: h, order: order})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.StartOffset != b.StartOffset {
			return a.StartOffset < b.StartOffset
		}
		if a.EndOffset != b.EndOffset {
			return a.EndOffset > b.EndOffset
		}
		return a.order < b.order
	})

	highlights := make([]cache.Highlight, 0, len(candidates))
	prevEnd := 0
	for _, c := range candidates {
		if c.StartOffset < prevEnd {
			continue
		}
		highlights = append(highlights, c.Highlight)
		prevEnd = c.EndOffset
	}
	return highlights, nil
}

func compileRuleset(rs Ruleset) (*compiledRuleset, error) {
	compiled := &compiledRuleset{version: rs.Version}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i, rule := range rs.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("engine: rule %d missing id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("engine: duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("engine: rule %q missing pattern", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("engine: rule %q pattern: %w", rule.ID, err)
		}
		compiled.rules = append(compiled.rules, compiledRule{
			id:      rule.ID,
			label:   rule.Label,
			pattern: pattern,
			rewrite: rule.Rewrite,
		})
	}
	if compiled.version == "" {
		compiled.version = deriveVersion(rs.Rules)
	}
	return compiled, nil
}

// deriveVersion fingerprints the rule definitions with FNV-1a so versionless
// documents still invalidate cached results when their content changes.
func deriveVersion(rules []Rule) string {
	h := fnv.New64a()
	for _, rule := range rules {
		_, _ = h.Write([]byte(rule.ID))
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(rule.Label))
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(rule.Pattern))
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(rule.Rewrite))
		_, _ = h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
