// Package escalate defines the outbound escalation boundary. Delivery
// failure is logged and counted, never propagated: the scripted safe
// message shown to the patient was decided before notification is
// attempted, so a down notifier cannot block turn finalization.
package escalate

import (
	"context"

	"go.uber.org/zap"

	"intake-guard/pkg"
)

// Notifier delivers an escalation event to on-call clinicians.
type Notifier interface {
	Notify(ctx context.Context, event pkg.EscalationEvent) error
}

// LogNotifier is the default delivery channel: a structured log line at
// error level that downstream alerting picks up. Real transports (pager,
// SMS) implement Notifier behind the same contract.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, event pkg.EscalationEvent) error {
	n.Log.Error("red flag escalation",
		zap.String("event_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.Int("turn_id", event.TurnID),
		zap.String("severity", string(event.Severity)),
		zap.Int("flags", len(event.Flags)),
	)
	return nil
}
