// Package lexical implements the deterministic pattern-matching layer of the
// safety pipeline. Matching is a pure function over an immutable rule table:
// no I/O, no shared state, bounded by input length times rule count. That is
// what lets it run synchronously on the hot path with no timeout, and what
// makes it the floor the probabilistic layer can never lower.
package lexical

import (
	"sort"
	"strings"

	"intake-guard/internal/rules"
	"intake-guard/pkg"
)

// candidate is an intermediate hit before overlap resolution.
type candidate struct {
	rule  rules.Rule
	order int
	span  pkg.Span
}

// MatchRedFlags evaluates every rule in the table against text and returns
// all non-overlapping matches. It does not short-circuit on the first hit: a
// single turn can carry several independent flags. Where two hits overlap,
// the higher declared severity wins; ties go to the rule declared first.
func MatchRedFlags(text string, table []rules.Rule) []pkg.RedFlagMatch {
	cands := findAll(text, table)
	sort.SliceStable(cands, func(i, j int) bool {
		si := pkg.Severity(cands[i].rule.Severity).Rank()
		sj := pkg.Severity(cands[j].rule.Severity).Rank()
		if si != sj {
			return si > sj
		}
		return cands[i].order < cands[j].order
	})
	kept := resolveOverlaps(cands)

	out := make([]pkg.RedFlagMatch, 0, len(kept))
	for _, c := range kept {
		out = append(out, pkg.RedFlagMatch{
			FlagType:   c.rule.FlagType,
			Severity:   pkg.Severity(c.rule.Severity),
			Source:     pkg.SourceLexical,
			Span:       c.span,
			Confidence: 1.0,
		})
	}
	return out
}

// MatchViolations scans a candidate reply for diagnosis, medication-advice
// and prognosis patterns. Overlaps resolve by declaration order alone since
// violation rules carry no severity.
func MatchViolations(text string, table []rules.Rule) []pkg.Violation {
	kept := resolveOverlaps(findAll(text, table))
	out := make([]pkg.Violation, 0, len(kept))
	for _, c := range kept {
		out = append(out, pkg.Violation{
			Kind:       pkg.ViolationKind(c.rule.Kind),
			Span:       c.span,
			Source:     pkg.SourceLexical,
			Confidence: 1.0,
		})
	}
	return out
}

// MatchesBlocked reports whether the text contains any blocklist pattern
// (patient questions that get a scripted redirect rather than a generated
// answer).
func MatchesBlocked(text string, table []rules.Rule) bool {
	lower := strings.ToLower(text)
	for _, r := range table {
		if strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return true
		}
	}
	return false
}

// findAll returns the first occurrence of each rule's pattern in text, in
// rule declaration order. Matching is case-insensitive.
func findAll(text string, table []rules.Rule) []candidate {
	lower := strings.ToLower(text)
	var cands []candidate
	for i, r := range table {
		idx := strings.Index(lower, strings.ToLower(r.Pattern))
		if idx < 0 {
			continue
		}
		cands = append(cands, candidate{
			rule:  r,
			order: i,
			span:  pkg.Span{Start: idx, End: idx + len(r.Pattern)},
		})
	}
	return cands
}

// resolveOverlaps greedily accepts candidates in preference order, skipping
// any whose span intersects an already accepted match, then restores span
// order so results are stable for tests and audit records.
func resolveOverlaps(cands []candidate) []candidate {
	var kept []candidate
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if c.span.Start < k.span.End && k.span.Start < c.span.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].span.Start < kept[j].span.Start })
	return kept
}
