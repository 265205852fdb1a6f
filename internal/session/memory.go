package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"intake-guard/pkg"
)

// MemoryStore is a map-backed Store for tests and single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*pkg.Session
	history  map[string][]pkg.ConversationTurn
	turnSeq  map[string]int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*pkg.Session),
		history:  make(map[string][]pkg.ConversationTurn),
		turnSeq:  make(map[string]int),
	}
}

func (s *MemoryStore) Create(_ context.Context, language string) (*pkg.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess := &pkg.Session{
		ID:             uuid.NewString(),
		Language:       language,
		Status:         pkg.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*pkg.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *sess
	return &out, nil
}

func (s *MemoryStore) NextTurnID(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return 0, ErrNotFound
	}
	s.turnSeq[id]++
	return s.turnSeq[id], nil
}

func (s *MemoryStore) SetLanguage(_ context.Context, id, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Language = language
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status pkg.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn pkg.ConversationTurn, redFlags int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[turn.SessionID]
	if !ok {
		return ErrNotFound
	}
	s.history[turn.SessionID] = append(s.history[turn.SessionID], turn)
	sess.TurnCount++
	sess.RedFlagCount += redFlags
	sess.LastActivityAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, id string, n int) ([]pkg.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, ErrNotFound
	}
	h := s.history[id]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]pkg.ConversationTurn, len(h))
	copy(out, h)
	return out, nil
}
