package pkg

import "time"

// Severity ranks how dangerous a detected red flag is. The ordering is
// SeverityNone < SeverityUrgent < SeverityEmergency; a turn's effective
// severity is the maximum over all of its matches.
type Severity string

const (
	SeverityNone      Severity = "none"
	SeverityUrgent    Severity = "urgent"
	SeverityEmergency Severity = "emergency"
)

// Rank returns the ordinal position of the severity so callers can compare
// severities directly. Unknown values rank below none.
func (s Severity) Rank() int {
	switch s {
	case SeverityNone:
		return 0
	case SeverityUrgent:
		return 1
	case SeverityEmergency:
		return 2
	}
	return -1
}

// MaxSeverity returns the higher ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// MatchSource records which detection layer produced a match.
type MatchSource string

const (
	SourceLexical       MatchSource = "lexical"
	SourceProbabilistic MatchSource = "probabilistic"
)

// ViolationKind classifies why a candidate reply is unsafe to show a patient.
type ViolationKind string

const (
	ViolationDiagnosis        ViolationKind = "diagnosis"
	ViolationMedicationAdvice ViolationKind = "medication_advice"
	ViolationPrognosis        ViolationKind = "prognosis"
)

// Span marks byte offsets of a match into the text it was found in.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RedFlagMatch is a single detected emergency signal in patient input.
// Multiple matches may coexist in one turn.
type RedFlagMatch struct {
	FlagType   string      `json:"flag_type"`
	Severity   Severity    `json:"severity"`
	Source     MatchSource `json:"source"`
	Span       Span        `json:"span"`
	Confidence float64     `json:"confidence"`
}

// RedFlagResult is the combined verdict over one turn of patient input.
// Degraded means the probabilistic layer was unavailable and only lexical
// rules were applied; it never lowers the reported severity.
type RedFlagResult struct {
	Flags              []RedFlagMatch `json:"flags"`
	Severity           Severity       `json:"severity"`
	EscalationRequired bool           `json:"escalation_required"`
	Degraded           bool           `json:"degraded"`
}

// Violation is one reason a candidate reply failed safety classification.
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	Span       Span          `json:"span"`
	Source     MatchSource   `json:"source"`
	Confidence float64       `json:"confidence"`
}

// SafetyVerdict is the immutable result of classifying a candidate reply.
type SafetyVerdict struct {
	IsSafe            bool        `json:"is_safe"`
	Violations        []Violation `json:"violations,omitempty"`
	OverallConfidence float64     `json:"overall_confidence"`
	Degraded          bool        `json:"degraded"`
}

// Modality distinguishes typed from transcribed input; it selects the
// end-to-end latency budget for the turn.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// ConversationTurn is the immutable record of one processed exchange. It is
// created when processing starts and sealed before the orchestrator returns;
// it never mutates afterwards.
type ConversationTurn struct {
	TurnID             int       `json:"turn_id"`
	SessionID          string    `json:"session_id"`
	PatientText        string    `json:"patient_text"`
	DetectedLanguage   string    `json:"detected_language"`
	CanonicalText      string    `json:"canonical_text"`
	CandidateReply     string    `json:"candidate_reply,omitempty"`
	FinalReply         string    `json:"final_reply"`
	Severity           Severity  `json:"severity"`
	EscalationRequired bool      `json:"escalation_required"`
	Degraded           bool      `json:"degraded"`
	CreatedAt          time.Time `json:"created_at"`
}

// EscalationEvent is created exactly once per turn that reaches urgent or
// emergency severity. Append-only; never mutated after creation.
type EscalationEvent struct {
	ID                   string         `json:"id"`
	SessionID            string         `json:"session_id"`
	TurnID               int            `json:"turn_id"`
	Severity             Severity       `json:"severity"`
	Flags                []RedFlagMatch `json:"flags"`
	PatientFacingMessage string         `json:"patient_facing_message"`
	CreatedAt            time.Time      `json:"created_at"`
}

// SessionStatus tracks the lifecycle of an intake session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEscalated SessionStatus = "escalated"
	SessionCompleted SessionStatus = "completed"
)

// Session represents one patient intake conversation.
type Session struct {
	ID             string        `json:"id"`
	Language       string        `json:"language"`
	Status         SessionStatus `json:"status"`
	TurnCount      int           `json:"turn_count"`
	RedFlagCount   int           `json:"red_flag_count"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}
