// Package session keeps the per-session state the pipeline needs between
// turns: session metadata, a monotonic turn counter, and the short recent
// history the red-flag detector reads for context. Two implementations
// exist: Redis for deployment and an in-memory store for tests.
package session

import (
	"context"
	"errors"

	"intake-guard/pkg"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// HistoryDepth is how many prior turns the red-flag detector receives as
// context.
const HistoryDepth = 2

// Store is the session state boundary.
type Store interface {
	// Create registers a new session. language may be empty when unknown.
	Create(ctx context.Context, language string) (*pkg.Session, error)
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*pkg.Session, error)
	// NextTurnID increments and returns the session's turn counter.
	NextTurnID(ctx context.Context, id string) (int, error)
	// SetLanguage records the last detected language for the session.
	SetLanguage(ctx context.Context, id, language string) error
	// SetStatus transitions the session lifecycle state.
	SetStatus(ctx context.Context, id string, status pkg.SessionStatus) error
	// AppendTurn stores a finalized turn and bumps activity/flag counters.
	AppendTurn(ctx context.Context, turn pkg.ConversationTurn, redFlags int) error
	// RecentTurns returns up to n most recent turns, oldest first.
	RecentTurns(ctx context.Context, id string, n int) ([]pkg.ConversationTurn, error)
}
