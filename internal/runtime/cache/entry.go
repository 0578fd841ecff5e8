package cache

import (
	"context"
	"fmt"
	"time"
)

// Highlight is one flagged span of the scanned text. Offsets are byte offsets
// into the original text, half-open.
type Highlight struct {
	StartOffset      int    `json:"startOffset"`
	EndOffset        int    `json:"endOffset"`
	RuleID           string `json:"ruleId"`
	Label            string `json:"label"`
	SuggestedRewrite string `json:"suggestedRewrite,omitempty"`
}

// Entry is the cached unit of work for one (content key, ruleset version)
// pair. Entries are values constructed once and never mutated; the store
// clones them on both read and write so no caller can reach shared state.
type Entry struct {
	Key            Key         `json:"key"`
	RulesetVersion string      `json:"rulesetVersion"`
	Highlights     []Highlight `json:"highlights"`
	ScannedAt      time.Time   `json:"scannedAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

// Expired reports whether the entry must be treated as absent at the given
// instant. Expiry is inclusive: now == ExpiresAt is already expired.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is the bounded in-memory scan cache keyed by composite key.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// ValidateHighlights enforces the span invariants the rule engine is expected
// to uphold: offsets within [0, textLen], start < end, ascending by start, no
// overlap between consecutive spans. The cache itself never repairs a bad
// sequence; this exists so engine implementations can be checked at the
// boundary.
func ValidateHighlights(textLen int, highlights []Highlight) error {
	prevEnd := 0
	for i, h := range highlights {
		if h.StartOffset < 0 || h.EndOffset > textLen || h.StartOffset >= h.EndOffset {
			return fmt.Errorf("cache: highlight %d (%s) span [%d,%d) invalid for text length %d", i, h.RuleID, h.StartOffset, h.EndOffset, textLen)
		}
		if h.StartOffset < prevEnd {
			return fmt.Errorf("cache: highlight %d (%s) overlaps or precedes previous span ending at %d", i, h.RuleID, prevEnd)
		}
		prevEnd = h.EndOffset
	}
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{
		Key:            in.Key,
		RulesetVersion: in.RulesetVersion,
		ScannedAt:      in.ScannedAt,
		ExpiresAt:      in.ExpiresAt,
	}
	if len(in.Highlights) > 0 {
		out.Highlights = make([]Highlight, len(in.Highlights))
		copy(out.Highlights, in.Highlights)
	}
	return out
}
