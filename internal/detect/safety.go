package detect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"intake-guard/internal/lexical"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/pkg"
)

// SafetyClassifier validates a candidate AI reply before it can reach a
// patient. False negatives here are the most dangerous failure mode in the
// whole system, so lexical rules are a floor, not a hint: any lexical match
// fails the verdict regardless of the probabilistic outcome.
type SafetyClassifier struct {
	rules      *rules.Store
	classifier *provider.Classifier
	timeout    time.Duration
	// requireProbabilisticPass fails the verdict when the probabilistic
	// call could not complete, instead of accepting a lexical-only pass.
	requireProbabilisticPass bool
	log                      *zap.Logger
}

// NewSafetyClassifier builds the classifier. With requireProbabilisticPass
// set, a reply is only safe when the probabilistic check completed clean;
// otherwise a lexical-clean reply passes (marked Degraded) when the
// provider is down.
func NewSafetyClassifier(rules *rules.Store, classifier *provider.Classifier, timeout time.Duration, requireProbabilisticPass bool, log *zap.Logger) *SafetyClassifier {
	return &SafetyClassifier{
		rules:                    rules,
		classifier:               classifier,
		timeout:                  timeout,
		requireProbabilisticPass: requireProbabilisticPass,
		log:                      log,
	}
}

// Validate classifies candidateReply. canonicalInput is the canonical text
// of the patient message that produced it, passed to the probabilistic
// classifier as context.
func (c *SafetyClassifier) Validate(ctx context.Context, candidateReply, canonicalInput string) pkg.SafetyVerdict {
	set := c.rules.Current()

	violations := lexical.MatchViolations(candidateReply, set.Violations)
	lexicalClean := len(violations) == 0

	degraded := false
	probClean := true
	probViolations, err := c.classifier.Safety(ctx, candidateReply, canonicalInput, c.timeout)
	if err != nil {
		degraded = true
		probClean = !c.requireProbabilisticPass
		c.log.Warn("safety classifier unavailable, lexical-only verdict", zap.Error(err))
	} else if len(probViolations) > 0 {
		probClean = false
		violations = append(violations, probViolations...)
	}

	confidence := 1.0
	for _, v := range violations {
		if v.Source == pkg.SourceProbabilistic && v.Confidence < confidence {
			confidence = v.Confidence
		}
	}

	return pkg.SafetyVerdict{
		IsSafe:            lexicalClean && probClean,
		Violations:        violations,
		OverallConfidence: confidence,
		Degraded:          degraded,
	}
}
