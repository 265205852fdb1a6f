package provider

import (
	"context"
	"time"

	"intake-guard/pkg"
)

// Classifier is the probabilistic classifier adapter: it turns raw gateway
// verdicts into the domain's match and violation values. It holds no state
// of its own; failure handling (degrade, never downgrade) belongs to the
// detectors that call it.
type Classifier struct {
	gw *Gateway
}

// NewClassifier wraps the gateway.
func NewClassifier(gw *Gateway) *Classifier {
	return &Classifier{gw: gw}
}

// RedFlag classifies patient input for emergency signals. The returned slice
// is empty when the provider sees no red flag; an error means the
// probabilistic layer was unavailable, not that the input is safe.
func (c *Classifier) RedFlag(ctx context.Context, canonicalText string, history []string, timeout time.Duration) ([]pkg.RedFlagMatch, error) {
	res, err := c.gw.Classify(ctx, ClassifyRequest{
		Task:    TaskRedFlag,
		Text:    canonicalText,
		Context: history,
	}, timeout)
	if err != nil {
		return nil, err
	}

	sev := pkg.Severity(res.Verdict)
	if sev.Rank() < pkg.SeverityUrgent.Rank() {
		return nil, nil
	}
	label := res.Label
	if label == "" {
		label = "classifier_flag"
	}
	return []pkg.RedFlagMatch{{
		FlagType:   label,
		Severity:   sev,
		Source:     pkg.SourceProbabilistic,
		Span:       pkg.Span{Start: 0, End: len(canonicalText)},
		Confidence: res.Confidence,
	}}, nil
}

// Safety classifies a candidate reply against the diagnosis /
// medication-advice / prognosis policy. inputText is the patient message the
// reply answers, passed as context.
func (c *Classifier) Safety(ctx context.Context, candidateReply, inputText string, timeout time.Duration) ([]pkg.Violation, error) {
	res, err := c.gw.Classify(ctx, ClassifyRequest{
		Task:    TaskSafety,
		Text:    candidateReply,
		Context: []string{inputText},
	}, timeout)
	if err != nil {
		return nil, err
	}

	switch kind := pkg.ViolationKind(res.Verdict); kind {
	case pkg.ViolationDiagnosis, pkg.ViolationMedicationAdvice, pkg.ViolationPrognosis:
		return []pkg.Violation{{
			Kind:       kind,
			Span:       pkg.Span{Start: 0, End: len(candidateReply)},
			Source:     pkg.SourceProbabilistic,
			Confidence: res.Confidence,
		}}, nil
	}
	// "safe" or anything unrecognized: no probabilistic violation.
	return nil, nil
}
