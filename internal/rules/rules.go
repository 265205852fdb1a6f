// Package rules loads the lexical rule tables the safety pipeline matches
// against. Tables are data, not code: per-language red-flag files, a
// violation file for candidate replies, and a blocklist for patient
// questions that must be redirected instead of answered. They live in a
// directory of YAML files and can be reloaded without restarting the server.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"intake-guard/pkg"
)

// Rule is one lexical pattern. Red-flag rules carry FlagType and Severity;
// violation rules carry Kind. Patterns are matched case-insensitively as
// substrings of the normalized input.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	FlagType string `yaml:"flag_type,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Severity string `yaml:"severity,omitempty"`
}

// Table is an ordered list of rules for one language. Declaration order is
// significant: it breaks ties between overlapping matches.
type Table struct {
	Language string `yaml:"language"`
	Rules    []Rule `yaml:"rules"`
}

// Set is one immutable snapshot of every loaded table. A Set is never
// mutated after Load; reloading produces a fresh Set swapped in atomically
// by the Store.
type Set struct {
	// RedFlags maps language code to its red-flag table.
	RedFlags map[string]Table
	// Violations are scanned against candidate replies (canonical language).
	Violations []Rule
	// Blocked are patient questions answered with a scripted redirect
	// instead of the generation provider.
	Blocked []Rule
}

// RedFlagTable returns the red-flag rules for a language, or nil if no table
// exists for it.
func (s *Set) RedFlagTable(language string) []Rule {
	if s == nil {
		return nil
	}
	t, ok := s.RedFlags[language]
	if !ok {
		return nil
	}
	return t.Rules
}

// Reserved file names inside the rules directory.
const (
	violationsFile = "violations.yaml"
	blockedFile    = "blocked.yaml"
)

// Load reads every YAML file in dir into a new Set. Files named
// violations.yaml and blocked.yaml hold the violation and blocklist tables;
// any other <lang>.yaml file is the red-flag table for that language.
func Load(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules dir: %w", err)
	}

	set := &Set{RedFlags: make(map[string]Table)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		var t Table
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		switch name {
		case violationsFile:
			if err := validateViolations(t.Rules); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			set.Violations = t.Rules
		case blockedFile:
			set.Blocked = t.Rules
		default:
			lang := t.Language
			if lang == "" {
				lang = strings.TrimSuffix(name, ".yaml")
			}
			if err := validateRedFlags(t.Rules); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			t.Language = lang
			set.RedFlags[lang] = t
		}
	}
	if len(set.RedFlags) == 0 {
		return nil, fmt.Errorf("rules dir %s contains no red-flag tables", dir)
	}
	return set, nil
}

func validateRedFlags(rules []Rule) error {
	for i, r := range rules {
		if r.Pattern == "" {
			return fmt.Errorf("rule %d: empty pattern", i)
		}
		if r.FlagType == "" {
			return fmt.Errorf("rule %d (%q): missing flag_type", i, r.Pattern)
		}
		if pkg.Severity(r.Severity).Rank() < 1 {
			return fmt.Errorf("rule %d (%q): severity must be urgent or emergency, got %q", i, r.Pattern, r.Severity)
		}
	}
	return nil
}

func validateViolations(rules []Rule) error {
	for i, r := range rules {
		if r.Pattern == "" {
			return fmt.Errorf("rule %d: empty pattern", i)
		}
		switch pkg.ViolationKind(r.Kind) {
		case pkg.ViolationDiagnosis, pkg.ViolationMedicationAdvice, pkg.ViolationPrognosis:
		default:
			return fmt.Errorf("rule %d (%q): unknown violation kind %q", i, r.Pattern, r.Kind)
		}
	}
	return nil
}
