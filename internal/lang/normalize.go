// Package lang is the multilingual equivalence layer. It decides which
// language a patient message is in and produces the canonical English
// rendering that the language-agnostic rule tables and classifiers run
// against. Detection never hard-fails: an ambiguous message falls back to
// the session's last known language, and a failed rendering falls back to
// the native text with the degraded flag set.
package lang

import (
	"context"
	"time"

	"go.uber.org/zap"

	"intake-guard/internal/provider"
)

// Canonical is the canonical language every check also runs in.
const Canonical = "en"

// Result is one normalization outcome.
type Result struct {
	// Language is the detected (or defaulted) language code.
	Language string
	// Ambiguous is set when detection could not decide and a default was
	// applied.
	Ambiguous bool
	// CanonicalText is the English rendering. Equal to the input for
	// English, and equal to the native text when rendering degraded.
	CanonicalText string
	// Degraded is set when the canonical rendering could not be produced
	// and native text was used instead.
	Degraded bool
}

// Normalizer detects language and renders canonical text through the
// provider gateway.
type Normalizer struct {
	gw      *provider.Gateway
	timeout time.Duration
	log     *zap.Logger
}

// NewNormalizer builds a Normalizer. timeout bounds each translation call.
func NewNormalizer(gw *provider.Gateway, timeout time.Duration, log *zap.Logger) *Normalizer {
	return &Normalizer{gw: gw, timeout: timeout, log: log}
}

const translateSystemPrompt = `Translate the patient's message to English as literally as possible. Preserve descriptions of symptoms exactly; do not summarize, soften, or interpret. Output only the translation.`

// Normalize resolves the message language and canonical text. hint, when
// present, wins over detection; lastKnown is the session's last known
// language, used when detection is ambiguous.
func (n *Normalizer) Normalize(ctx context.Context, text, hint, lastKnown string) Result {
	language, ambiguous := Detect(text, hint, lastKnown)

	if language == Canonical {
		return Result{Language: language, Ambiguous: ambiguous, CanonicalText: text}
	}

	canonical, err := n.gw.Generate(ctx, provider.GenerateRequest{
		System:   translateSystemPrompt,
		Messages: []provider.Message{{Role: "user", Content: text}},
	}, n.timeout)
	if err != nil || canonical == "" {
		// Fail open to native text: the native-language rule table still
		// runs, so the emergency path does not depend on this call.
		n.log.Warn("canonical rendering unavailable, using native text",
			zap.String("language", language), zap.Error(err))
		return Result{Language: language, Ambiguous: ambiguous, CanonicalText: text, Degraded: true}
	}
	return Result{Language: language, Ambiguous: ambiguous, CanonicalText: canonical}
}
