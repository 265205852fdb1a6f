// Package orchestrator sequences one conversational turn through the safety
// pipeline: language normalization, red-flag detection, provider generation,
// response safety classification, and fallback substitution. Every path
// finalizes exactly once, so the caller always receives exactly one reply
// per input. Escalation and audit are side channels: their failures are
// structurally incapable of delaying or blocking the patient-facing reply.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intake-guard/internal/audit"
	"intake-guard/internal/detect"
	"intake-guard/internal/escalate"
	"intake-guard/internal/lang"
	"intake-guard/internal/lexical"
	"intake-guard/internal/metrics"
	"intake-guard/internal/provider"
	"intake-guard/internal/rules"
	"intake-guard/internal/session"
	"intake-guard/pkg"
)

// ErrInvalidInput rejects malformed requests before processing begins; it
// is the only error a turn can fail with.
var ErrInvalidInput = errors.New("orchestrator: invalid input")

// Turn outcomes for metrics.
const (
	outcomeDelivered   = "delivered"
	outcomeSubstituted = "substituted"
	outcomeEscalated   = "escalated"
	outcomeFallback    = "fallback"
	outcomeRedirected  = "redirected"
)

// Config carries the per-modality budgets and call timeouts.
type Config struct {
	// TextBudget and VoiceBudget bound end-to-end turn processing.
	TextBudget  time.Duration
	VoiceBudget time.Duration
	// GenerateTimeout bounds the candidate-reply provider call.
	GenerateTimeout time.Duration
}

// TurnRequest is the inbound processTurn contract.
type TurnRequest struct {
	SessionID    string
	PatientText  string
	Modality     pkg.Modality
	LanguageHint string
}

// TurnResponse is everything the caller gets back for one turn.
type TurnResponse struct {
	TurnID             int                `json:"turn_id"`
	FinalReply         string             `json:"final_reply"`
	Severity           pkg.Severity       `json:"severity"`
	EscalationRequired bool               `json:"escalation_required"`
	Degraded           bool               `json:"degraded"`
	DetectedLanguage   string             `json:"detected_language"`
	Verdict            *pkg.SafetyVerdict `json:"safety_verdict,omitempty"`
	Flags              []pkg.RedFlagMatch `json:"red_flags,omitempty"`
}

// Orchestrator wires the pipeline stages together. All fields are
// goroutine-safe; many turns from many sessions run through one
// Orchestrator concurrently.
type Orchestrator struct {
	sessions   session.Store
	locks      *session.Locks
	normalizer *lang.Normalizer
	redFlags   *detect.RedFlagDetector
	safety     *detect.SafetyClassifier
	gateway    *provider.Gateway
	rules      *rules.Store
	notifier   escalate.Notifier
	recorder   *audit.Recorder
	cfg        Config
	log        *zap.Logger
}

// New assembles an Orchestrator.
func New(
	sessions session.Store,
	normalizer *lang.Normalizer,
	redFlags *detect.RedFlagDetector,
	safety *detect.SafetyClassifier,
	gateway *provider.Gateway,
	ruleStore *rules.Store,
	notifier escalate.Notifier,
	recorder *audit.Recorder,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	if cfg.TextBudget <= 0 {
		cfg.TextBudget = 1500 * time.Millisecond
	}
	if cfg.VoiceBudget <= 0 {
		cfg.VoiceBudget = 3 * time.Second
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = time.Second
	}
	return &Orchestrator{
		sessions:   sessions,
		locks:      session.NewLocks(),
		normalizer: normalizer,
		redFlags:   redFlags,
		safety:     safety,
		gateway:    gateway,
		rules:      ruleStore,
		notifier:   notifier,
		recorder:   recorder,
		cfg:        cfg,
		log:        log,
	}
}

// ProcessTurn runs one turn end to end. Provider-layer failures degrade to
// fallback replies; the only error return is malformed input or an unknown
// session. Turns within one session are serialized in arrival order.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := time.Now()
	patientText := strings.TrimSpace(req.PatientText)
	if req.SessionID == "" || patientText == "" {
		return nil, ErrInvalidInput
	}
	sess, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	o.locks.Lock(req.SessionID)
	defer o.locks.Unlock(req.SessionID)

	// The per-call timeouts below hold regardless of client presence; a
	// disconnecting client must not strand an in-flight provider call.
	budget := o.cfg.TextBudget
	if req.Modality == pkg.ModalityVoice {
		budget = o.cfg.VoiceBudget
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancel()

	turnID, err := o.sessions.NextTurnID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	// RECEIVED -> LANGUAGE_NORMALIZED
	norm := o.normalizer.Normalize(ctx, patientText, req.LanguageHint, sess.Language)
	if norm.Language != sess.Language {
		if err := o.sessions.SetLanguage(ctx, req.SessionID, norm.Language); err != nil {
			o.log.Warn("failed to record session language", zap.Error(err))
		}
	}

	history := o.recentHistory(ctx, req.SessionID)

	// LANGUAGE_NORMALIZED -> RED_FLAG_CHECKED
	result := o.redFlags.Detect(ctx, norm.CanonicalText, patientText, norm.Language, history)

	turn := pkg.ConversationTurn{
		TurnID:             turnID,
		SessionID:          req.SessionID,
		PatientText:        patientText,
		DetectedLanguage:   norm.Language,
		CanonicalText:      norm.CanonicalText,
		Severity:           result.Severity,
		EscalationRequired: result.EscalationRequired,
		Degraded:           norm.Degraded || result.Degraded,
		CreatedAt:          time.Now().UTC(),
	}

	if result.EscalationRequired {
		return o.escalateShortCircuit(turn, result, start), nil
	}

	// Blocked patient questions (diagnosis, prognosis, prescriptions) get
	// a scripted redirect; the provider is not consulted.
	if lexical.MatchesBlocked(norm.CanonicalText, o.rules.Current().Blocked) {
		turn.FinalReply = blockedRedirectMessage
		o.finalize(&turn, nil, &result, outcomeRedirected, start)
		return o.response(&turn, nil, &result), nil
	}

	// RED_FLAG_CHECKED -> GENERATING
	candidate, err := o.generate(ctx, norm.CanonicalText, history)
	if err != nil {
		// Degraded path: never leave the patient without a response, and
		// never surface a provider error to them.
		turn.FinalReply = providerFallbackMessage
		turn.Degraded = true
		o.finalize(&turn, nil, &result, outcomeFallback, start)
		return o.response(&turn, nil, &result), nil
	}
	turn.CandidateReply = candidate

	// GENERATING -> RESPONSE_CLASSIFIED
	verdict := o.safety.Validate(ctx, candidate, norm.CanonicalText)
	turn.Degraded = turn.Degraded || verdict.Degraded

	outcome := outcomeDelivered
	if verdict.IsSafe {
		turn.FinalReply = candidate
	} else {
		// SUBSTITUTED: the unsafe draft is kept for audit but never shown.
		turn.FinalReply = substitutionMessages[(turnID-1)%len(substitutionMessages)]
		outcome = outcomeSubstituted
		o.log.Warn("unsafe candidate substituted",
			zap.String("session_id", req.SessionID),
			zap.Int("turn_id", turnID),
			zap.Int("violations", len(verdict.Violations)))
	}

	o.finalize(&turn, &verdict, &result, outcome, start)
	return o.response(&turn, &verdict, &result), nil
}

// escalateShortCircuit handles ESCALATED_SHORT_CIRCUIT: scripted reply,
// escalation event, notifier and audit side channels. The generation
// provider is never invoked on this path; the emergency flow cannot depend
// on the resource whose failure it must tolerate.
func (o *Orchestrator) escalateShortCircuit(turn pkg.ConversationTurn, result pkg.RedFlagResult, start time.Time) *TurnResponse {
	refs := make([]flagRef, 0, len(result.Flags))
	for _, f := range result.Flags {
		refs = append(refs, flagRef{flagType: f.FlagType, rank: f.Severity.Rank()})
	}
	turn.FinalReply = scriptedEscalationMessage(result.Severity.Rank(), refs)

	event := pkg.EscalationEvent{
		ID:                   uuid.NewString(),
		SessionID:            turn.SessionID,
		TurnID:               turn.TurnID,
		Severity:             result.Severity,
		Flags:                result.Flags,
		PatientFacingMessage: turn.FinalReply,
		CreatedAt:            time.Now().UTC(),
	}
	metrics.Escalations.WithLabelValues(string(result.Severity)).Inc()

	// Side channels run detached from the turn: notifier or audit failure
	// never blocks the reply that was already decided above.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.notifier.Notify(ctx, event); err != nil {
			o.log.Error("escalation notification failed",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}()
	o.recorder.Escalation(event)

	if err := o.sessions.SetStatus(context.Background(), turn.SessionID, pkg.SessionEscalated); err != nil {
		o.log.Warn("failed to mark session escalated", zap.Error(err))
	}

	o.finalize(&turn, nil, &result, outcomeEscalated, start)
	return o.response(&turn, nil, &result)
}

// generate asks the provider for a candidate reply, passing recent turns so
// follow-up questions stay coherent.
func (o *Orchestrator) generate(ctx context.Context, canonicalText string, history []string) (string, error) {
	msgs := make([]provider.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, provider.Message{Role: "user", Content: h})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: canonicalText})
	return o.gateway.Generate(ctx, provider.GenerateRequest{
		System:   generateSystemPrompt,
		Messages: msgs,
	}, o.cfg.GenerateTimeout)
}

// recentHistory returns canonical text of the last turns for detector and
// generation context. History failures degrade to no context.
func (o *Orchestrator) recentHistory(ctx context.Context, sessionID string) []string {
	turns, err := o.sessions.RecentTurns(ctx, sessionID, session.HistoryDepth)
	if err != nil {
		o.log.Warn("failed to load recent history", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.CanonicalText)
	}
	return out
}

// finalize seals the turn: FINALIZED is the only terminal state and every
// path passes through here exactly once.
func (o *Orchestrator) finalize(turn *pkg.ConversationTurn, verdict *pkg.SafetyVerdict, result *pkg.RedFlagResult, outcome string, start time.Time) {
	if err := o.sessions.AppendTurn(context.Background(), *turn, len(result.Flags)); err != nil {
		o.log.Warn("failed to append turn to session history", zap.Error(err))
	}
	o.recorder.Turn(audit.TurnRecord{Turn: *turn, Verdict: verdict, RedFlags: result})

	metrics.TurnsProcessed.WithLabelValues(outcome).Inc()
	if turn.Degraded {
		metrics.DegradedTurns.Inc()
	}
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) response(turn *pkg.ConversationTurn, verdict *pkg.SafetyVerdict, result *pkg.RedFlagResult) *TurnResponse {
	return &TurnResponse{
		TurnID:             turn.TurnID,
		FinalReply:         turn.FinalReply,
		Severity:           turn.Severity,
		EscalationRequired: turn.EscalationRequired,
		Degraded:           turn.Degraded,
		DetectedLanguage:   turn.DetectedLanguage,
		Verdict:            verdict,
		Flags:              result.Flags,
	}
}
