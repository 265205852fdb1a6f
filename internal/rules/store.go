package rules

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the current rule Set and swaps in a fresh one on reload.
// Readers on the hot path take the read lock only long enough to grab the
// snapshot pointer; matching then runs against the immutable Set.
type Store struct {
	mu  sync.RWMutex
	set *Set
	dir string
	log *zap.Logger
}

// NewStore loads the rules directory and returns a Store serving it.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	set, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return &Store{set: set, dir: dir, log: log}, nil
}

// Current returns the active rule snapshot.
func (s *Store) Current() *Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Reload re-reads the rules directory. A load error leaves the previous
// snapshot in place; a half-edited rules file must never knock out the
// lexical layer.
func (s *Store) Reload() error {
	set, err := Load(s.dir)
	if err != nil {
		s.log.Warn("rules reload failed, keeping previous tables", zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	s.log.Info("rules reloaded", zap.Int("languages", len(set.RedFlags)),
		zap.Int("violation_rules", len(set.Violations)))
	return nil
}

// Watch reloads the store whenever a file in the rules directory is written
// or created. Events are debounced: editors tend to fire several writes per
// save. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("rules watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			_ = s.Reload()
		}
	}
}
