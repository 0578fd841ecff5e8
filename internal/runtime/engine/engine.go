// Package engine wraps the rule-matching pipeline behind a uniform adapter.
// The orchestrator treats Scan as a slow, fallible black box and reads the
// active ruleset version through CurrentVersion; the version only changes on
// an explicit administrative reload.
package engine

import (
	"context"
	"errors"

	"github.com/prosescan/prosescan/internal/runtime/cache"
)

// Engine is the external collaborator boundary for the scanning pipeline.
type Engine interface {
	// Scan applies the active ruleset to text and returns highlights ordered
	// ascending by start offset, non-overlapping. It may be slow and may fail;
	// callers bound it with a context deadline.
	Scan(ctx context.Context, text, version string) ([]cache.Highlight, error)

	// CurrentVersion returns the process-wide active ruleset version. Cheap;
	// safe for concurrent readers; updated only by Reload.
	CurrentVersion() string
}

// Reloadable is implemented by engines whose ruleset can be swapped at
// runtime. The swap is atomic: readers either see the old compiled ruleset or
// the new one, never a half-updated state.
type Reloadable interface {
	Reload(rs Ruleset) error
}

// ErrNoRuleset is returned by Scan when the engine has no compiled ruleset.
var ErrNoRuleset = errors.New("engine: no ruleset loaded")
