// Package detect combines the lexical and probabilistic layers into the two
// verdicts the orchestrator acts on: red flags over patient input and
// safety verdicts over candidate replies. The combination is an explicit
// merge with documented precedence, not dispatch over classifier
// implementations: red flags take the max-severity union of both layers,
// and for safety verdicts a lexical match is a hard fail no matter what the
// probabilistic layer said.
package detect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"intake-guard/internal/lang"
	"intake-guard/internal/lexical"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/pkg"
)

// RedFlagDetector produces the emergency verdict for one turn of patient
// input.
type RedFlagDetector struct {
	rules      *rules.Store
	classifier *provider.Classifier
	timeout    time.Duration
	log        *zap.Logger
}

// NewRedFlagDetector builds a detector. timeout bounds the probabilistic
// call; the lexical passes need none.
func NewRedFlagDetector(rules *rules.Store, classifier *provider.Classifier, timeout time.Duration, log *zap.Logger) *RedFlagDetector {
	return &RedFlagDetector{rules: rules, classifier: classifier, timeout: timeout, log: log}
}

// Detect runs the native-language table (when one exists), the canonical
// table, and the probabilistic classifier, then unions the matches. The
// turn's severity is the maximum over all matches.
//
// If the probabilistic call fails the result degrades to lexical-only and
// is marked Degraded; it is never treated as "no emergency". Infrastructure
// failure must not lower the reported severity.
func (d *RedFlagDetector) Detect(ctx context.Context, canonicalText, nativeText, language string, history []string) pkg.RedFlagResult {
	set := d.rules.Current()

	var flags []pkg.RedFlagMatch
	if language != lang.Canonical {
		if table := set.RedFlagTable(language); table != nil {
			flags = append(flags, lexical.MatchRedFlags(nativeText, table)...)
		}
	}
	flags = append(flags, lexical.MatchRedFlags(canonicalText, set.RedFlagTable(lang.Canonical))...)

	degraded := false
	probFlags, err := d.classifier.RedFlag(ctx, canonicalText, history, d.timeout)
	if err != nil {
		degraded = true
		d.log.Warn("red-flag classifier unavailable, lexical-only this turn",
			zap.String("language", language), zap.Error(err))
	} else {
		flags = append(flags, probFlags...)
	}

	severity := pkg.SeverityNone
	for _, f := range flags {
		severity = pkg.MaxSeverity(severity, f.Severity)
	}

	return pkg.RedFlagResult{
		Flags:              flags,
		Severity:           severity,
		EscalationRequired: severity.Rank() >= pkg.SeverityUrgent.Rank(),
		Degraded:           degraded,
	}
}
