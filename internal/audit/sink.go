// Package audit records every finalized turn and every escalation event for
// operational visibility. Recording is append-only and fire-and-forget from
// the orchestrator's perspective: a full queue or a failed insert is logged,
// never propagated, and never adds latency to the patient-facing response.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"intake-guard/pkg"
)

// TurnRecord bundles a sealed turn with the verdicts that produced it.
type TurnRecord struct {
	Turn     pkg.ConversationTurn
	Verdict  *pkg.SafetyVerdict
	RedFlags *pkg.RedFlagResult
}

// Sink is the persistence boundary for audit records.
type Sink interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	RecordEscalation(ctx context.Context, event pkg.EscalationEvent) error
}

// recorderQueueSize bounds the buffered channel between the hot path and
// the background writer.
const recorderQueueSize = 256

// writeTimeout bounds each background insert.
const writeTimeout = 5 * time.Second

type job struct {
	turn  *TurnRecord
	event *pkg.EscalationEvent
}

// Recorder decouples audit writes from turn processing. Enqueue never
// blocks: when the queue is full the record is dropped and counted in the
// log, because audit backpressure must not slow a patient reply.
type Recorder struct {
	sink  Sink
	queue chan job
	done  chan struct{}
	log   *zap.Logger
}

// NewRecorder starts the background writer.
func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	r := &Recorder{
		sink:  sink,
		queue: make(chan job, recorderQueueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go r.run()
	return r
}

// Turn enqueues a finalized turn record.
func (r *Recorder) Turn(rec TurnRecord) {
	select {
	case r.queue <- job{turn: &rec}:
	default:
		r.log.Warn("audit queue full, dropping turn record",
			zap.String("session_id", rec.Turn.SessionID), zap.Int("turn_id", rec.Turn.TurnID))
	}
}

// Escalation enqueues an escalation event.
func (r *Recorder) Escalation(event pkg.EscalationEvent) {
	select {
	case r.queue <- job{event: &event}:
	default:
		r.log.Warn("audit queue full, dropping escalation record",
			zap.String("session_id", event.SessionID), zap.Int("turn_id", event.TurnID))
	}
}

// Close drains outstanding records and stops the writer.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for j := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch {
		case j.turn != nil:
			err = r.sink.RecordTurn(ctx, *j.turn)
		case j.event != nil:
			err = r.sink.RecordEscalation(ctx, *j.event)
		}
		cancel()
		if err != nil {
			r.log.Warn("audit write failed", zap.Error(err))
		}
	}
}
