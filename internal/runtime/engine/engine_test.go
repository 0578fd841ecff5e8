package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prosescan/prosescan/internal/runtime/cache"
)

func testRuleset() Ruleset {
	return Ruleset{
		Version: "v1",
		Rules: []Rule{
			{ID: "style.very", Label: "Intensifier", Pattern: `\bvery\b`, Rewrite: ""},
			{ID: "style.utilize", Label: "Wordy", Pattern: `\butilize\b`, Rewrite: "use"},
			{ID: "grammar.double-space", Label: "Double space", Pattern: `  +`, Rewrite: " "},
		},
	}
}

func TestRulesetEngineScan(t *testing.T) {
	eng, err := NewRulesetEngine(testRuleset())
	require.NoError(t, err)
	require.Equal(t, "v1", eng.CurrentVersion())

	text := "We utilize very advanced tools."
	highlights, err := eng.Scan(context.Background(), text, "v1")
	require.NoError(t, err)
	require.Len(t, highlights, 2)

	require.Equal(t, "style.utilize", highlights[0].RuleID)
	require.Equal(t, "use", highlights[0].SuggestedRewrite)
	require.Equal(t, "utilize", text[highlights[0].StartOffset:highlights[0].EndOffset])

	require.Equal(t, "style.very", highlights[1].RuleID)
	require.Empty(t, highlights[1].SuggestedRewrite)

	require.NoError(t, cache.ValidateHighlights(len(text), highlights))
}

func TestRulesetEngineScanNoMatches(t *testing.T) {
	eng, err := NewRulesetEngine(testRuleset())
	require.NoError(t, err)

	highlights, err := eng.Scan(context.Background(), "Nothing to flag here.", "v1")
	require.NoError(t, err)
	require.Empty(t, highlights)

	highlights, err = eng.Scan(context.Background(), "", "v1")
	require.NoError(t, err)
	require.Empty(t, highlights)
}

func TestRulesetEngineOverlapSuppression(t *testing.T) {
	eng, err := NewRulesetEngine(Ruleset{
		Version: "v1",
		Rules: []Rule{
			{ID: "a", Label: "A", Pattern: `abcd`},
			{ID: "b", Label: "B", Pattern: `cdef`},
		},
	})
	require.NoError(t, err)

	text := "abcdef"
	highlights, err := eng.Scan(context.Background(), text, "v1")
	require.NoError(t, err)
	require.Len(t, highlights, 1, "overlapping match must be suppressed")
	require.Equal(t, "a", highlights[0].RuleID)
	require.NoError(t, cache.ValidateHighlights(len(text), highlights))
}

func TestRulesetEngineReloadSwapsVersion(t *testing.T) {
	eng, err := NewRulesetEngine(testRuleset())
	require.NoError(t, err)
	require.Equal(t, "v1", eng.CurrentVersion())

	next := testRuleset()
	next.Version = "v2"
	next.Rules = next.Rules[:1]
	require.NoError(t, eng.Reload(next))
	require.Equal(t, "v2", eng.CurrentVersion())

	highlights, err := eng.Scan(context.Background(), "We utilize very advanced tools.", "v2")
	require.NoError(t, err)
	require.Len(t, highlights, 1)
	require.Equal(t, "style.very", highlights[0].RuleID)
}

func TestRulesetEngineReloadRejectsBadPattern(t *testing.T) {
	eng, err := NewRulesetEngine(testRuleset())
	require.NoError(t, err)

	err = eng.Reload(Ruleset{Version: "v2", Rules: []Rule{{ID: "bad", Pattern: `([`}}})
	require.Error(t, err)
	require.Equal(t, "v1", eng.CurrentVersion(), "failed reload must keep the previous ruleset active")
}

func TestRulesetEngineValidation(t *testing.T) {
	_, err := NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "", Pattern: "x"}}})
	require.Error(t, err)

	_, err = NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "a", Pattern: "x"}, {ID: "a", Pattern: "y"}}})
	require.Error(t, err)

	_, err = NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "a", Pattern: ""}}})
	require.Error(t, err)
}

func TestRulesetEngineDerivedVersion(t *testing.T) {
	first, err := NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "a", Label: "A", Pattern: "x"}}})
	require.NoError(t, err)
	second, err := NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "a", Label: "A", Pattern: "y"}}})
	require.NoError(t, err)

	require.NotEmpty(t, first.CurrentVersion())
	require.NotEqual(t, first.CurrentVersion(), second.CurrentVersion(),
		"editing a versionless ruleset must change the derived version")

	same, err := NewRulesetEngine(Ruleset{Rules: []Rule{{ID: "a", Label: "A", Pattern: "x"}}})
	require.NoError(t, err)
	require.Equal(t, first.CurrentVersion(), same.CurrentVersion())
}

func TestRulesetEngineScanCancelled(t *testing.T) {
	eng, err := NewRulesetEngine(testRuleset())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Scan(ctx, "We utilize very advanced tools.", "v1")
	require.ErrorIs(t, err, context.Canceled)
}
