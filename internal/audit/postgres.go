package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "embed"

	"intake-guard/pkg"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the audit schema. The statements only create tables and
// indexes that do not already exist, so it is safe to run at every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

// PostgresSink persists audit records to Postgres. Both tables are
// append-only; deduplication, if wanted, is a downstream concern.
type PostgresSink struct {
	DB *sql.DB
}

// NewPostgresSink wraps an existing sql.DB. The caller manages the
// connection lifecycle.
func NewPostgresSink(db *sql.DB) *PostgresSink { return &PostgresSink{DB: db} }

func (s *PostgresSink) RecordTurn(ctx context.Context, rec TurnRecord) error {
	verdict, err := marshalNullable(rec.Verdict)
	if err != nil {
		return err
	}
	redFlags, err := marshalNullable(rec.RedFlags)
	if err != nil {
		return err
	}
	var candidate sql.NullString
	if rec.Turn.CandidateReply != "" {
		candidate = sql.NullString{String: rec.Turn.CandidateReply, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_id, patient_text, detected_language, canonical_text,
                            candidate_reply, final_reply, severity, escalation_required, degraded,
                            verdict, red_flags, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.Turn.SessionID, rec.Turn.TurnID, rec.Turn.PatientText, rec.Turn.DetectedLanguage,
		rec.Turn.CanonicalText, candidate, rec.Turn.FinalReply, string(rec.Turn.Severity),
		rec.Turn.EscalationRequired, rec.Turn.Degraded, verdict, redFlags, rec.Turn.CreatedAt,
	)
	return err
}

func (s *PostgresSink) RecordEscalation(ctx context.Context, event pkg.EscalationEvent) error {
	flags, err := json.Marshal(event.Flags)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO escalations (id, session_id, turn_id, severity, flags, patient_facing_message, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SessionID, event.TurnID, string(event.Severity),
		flags, event.PatientFacingMessage, event.CreatedAt,
	)
	return err
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case *pkg.SafetyVerdict:
		if x == nil {
			return nil, nil
		}
	case *pkg.RedFlagResult:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
