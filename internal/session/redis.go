package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"intake-guard/pkg"
)

// sessionTTL bounds how long abandoned sessions linger in Redis.
const sessionTTL = 24 * time.Hour

// RedisStore implements Store on Redis: session metadata as a JSON value,
// history as a list trimmed to a fixed depth, and the turn counter via INCR
// so it stays monotonic across server instances.
type RedisStore struct {
	client       *redis.Client
	historyDepth int
}

// NewRedisStore wraps an existing Redis client. historyDepth caps the
// retained per-session history (defaults to 10 when non-positive).
func NewRedisStore(client *redis.Client, historyDepth int) *RedisStore {
	if historyDepth <= 0 {
		historyDepth = 10
	}
	return &RedisStore{client: client, historyDepth: historyDepth}
}

func sessionKey(id string) string { return "intake:session:" + id }
func historyKey(id string) string { return "intake:history:" + id }
func turnSeqKey(id string) string { return "intake:turnseq:" + id }

func (s *RedisStore) Create(ctx context.Context, language string) (*pkg.Session, error) {
	now := time.Now().UTC()
	sess := &pkg.Session{
		ID:             uuid.NewString(),
		Language:       language,
		Status:         pkg.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*pkg.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess pkg.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) NextTurnID(ctx context.Context, id string) (int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return 0, err
	}
	n, err := s.client.Incr(ctx, turnSeqKey(id)).Result()
	if err != nil {
		return 0, err
	}
	s.client.Expire(ctx, turnSeqKey(id), sessionTTL)
	return int(n), nil
}

func (s *RedisStore) SetLanguage(ctx context.Context, id, language string) error {
	return s.update(ctx, id, func(sess *pkg.Session) {
		sess.Language = language
	})
}

func (s *RedisStore) SetStatus(ctx context.Context, id string, status pkg.SessionStatus) error {
	return s.update(ctx, id, func(sess *pkg.Session) {
		sess.Status = status
	})
}

func (s *RedisStore) AppendTurn(ctx context.Context, turn pkg.ConversationTurn, redFlags int) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := historyKey(turn.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.historyDepth), -1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.update(ctx, turn.SessionID, func(sess *pkg.Session) {
		sess.TurnCount++
		sess.RedFlagCount += redFlags
		sess.LastActivityAt = time.Now().UTC()
	})
}

func (s *RedisStore) RecentTurns(ctx context.Context, id string, n int) ([]pkg.ConversationTurn, error) {
	items, err := s.client.LRange(ctx, historyKey(id), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	turns := make([]pkg.ConversationTurn, 0, len(items))
	for _, item := range items {
		var t pkg.ConversationTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) put(ctx context.Context, sess *pkg.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.ID), data, sessionTTL).Err()
}

func (s *RedisStore) update(ctx context.Context, id string, fn func(*pkg.Session)) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(sess)
	return s.put(ctx, sess)
}
