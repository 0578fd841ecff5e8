package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/prosescan/prosescan/internal/runtime/engine"
)

type rulesetDocument struct {
	Version string         `koanf:"version"`
	Rules   []ruleDocument `koanf:"rules"`
}

type ruleDocument struct {
	ID      string `koanf:"id"`
	Label   string `koanf:"label"`
	Pattern string `koanf:"pattern"`
	Rewrite string `koanf:"rewrite"`
}

// LoadRuleset reads a ruleset document from path and converts it into the
// engine's representation. The parser is chosen by file extension so operators
// can author rules in YAML, JSON, or TOML.
func LoadRuleset(path string) (engine.Ruleset, error) {
	if err := ensureRulesetFile(path); err != nil {
		return engine.Ruleset{}, err
	}
	parser, err := parserFor(path)
	if err != nil {
		return engine.Ruleset{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return engine.Ruleset{}, fmt.Errorf("config: load ruleset from %s: %w", path, err)
	}
	var doc rulesetDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return engine.Ruleset{}, fmt.Errorf("config: decode ruleset from %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return engine.Ruleset{}, fmt.Errorf("config: ruleset %s defines no rules", path)
	}
	rules := make([]engine.Rule, 0, len(doc.Rules))
	for _, rule := range doc.Rules {
		rules = append(rules, engine.Rule{
			ID:      rule.ID,
			Label:   rule.Label,
			Pattern: rule.Pattern,
			Rewrite: rule.Rewrite,
		})
	}
	return engine.Ruleset{Version: strings.TrimSpace(doc.Version), Rules: rules}, nil
}

func ensureRulesetFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: ruleset file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: ruleset file %s: expected a file, found directory", path)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported ruleset file extension %s", ext)
	}
}
