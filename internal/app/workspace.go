package app

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tillbook/api/internal/localstore"
)

// SlotFactory returns the persisted local slot for a user.
type SlotFactory func(userID string) localstore.Slot

// RedisSlots keeps every user's working copy in Redis, shared by all API
// processes.
func RedisSlots(client *redis.Client) SlotFactory {
	return func(userID string) localstore.Slot {
		return localstore.NewRedisSlot(client, userID)
	}
}

// MemorySlots keeps working copies in this process only.
func MemorySlots() SlotFactory {
	var mu sync.Mutex
	slots := map[string]*localstore.MemorySlot{}
	return func(userID string) localstore.Slot {
		mu.Lock()
		defer mu.Unlock()
		slot, ok := slots[userID]
		if !ok {
			slot = localstore.NewMemorySlot()
			slots[userID] = slot
		}
		return slot
	}
}

type workspace struct {
	local  *localstore.Store
	cancel context.CancelFunc
}

// workspace returns the user's local store, creating it on first use. A
// user with no persisted working copy is hydrated from the remote store.
func (s *Service) workspace(ctx context.Context, userID string) (*localstore.Store, error) {
	lock, _ := s.openLocks.LoadOrStore(userID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	s.mu.Lock()
	ws, ok := s.workspaces[userID]
	s.mu.Unlock()
	if ok {
		return ws.local, nil
	}

	log := s.logger.With(zap.String("user_id", userID))
	local := localstore.New(s.slots(userID), log)
	if !local.Open(ctx) {
		snapshot, err := s.syncer.FetchSnapshot(ctx, userID)
		if err != nil {
			return nil, &syncFailed{err: err}
		}
		local.Replace(ctx, snapshot)
		log.Info("hydrated workspace from remote store", zap.Int("records", snapshot.Count()))
	}

	watchCtx, cancel := context.WithCancel(s.baseCtx)
	go func() {
		if err := local.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("workspace watch stopped", zap.Error(err))
		}
	}()
	s.worker.Register(userID, local)

	s.mu.Lock()
	s.workspaces[userID] = &workspace{local: local, cancel: cancel}
	s.mu.Unlock()
	return local, nil
}

// rehydrate replaces the working copy with the remote data.
func (s *Service) rehydrate(ctx context.Context, userID string, local *localstore.Store) error {
	snapshot, err := s.syncer.FetchSnapshot(ctx, userID)
	if err != nil {
		return &syncFailed{err: err}
	}
	before := local.Snapshot()
	local.Replace(ctx, snapshot)
	if s.search != nil {
		s.search.ReplaceUser(userID, before, snapshot)
	}
	return nil
}

// Close stops every workspace watcher.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, ws := range s.workspaces {
		ws.cancel()
		s.worker.Unregister(userID)
		delete(s.workspaces, userID)
	}
	s.stop()
}
