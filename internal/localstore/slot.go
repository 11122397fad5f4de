package localstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Slot is the persisted storage behind one user's local snapshot. Every view
// of the same user shares one slot; Save tells the other views to re-read it.
type Slot interface {
	// Load returns nil data when nothing has been saved yet.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte, origin string) error
	// Subscribe delivers the origin of every Save until ctx is done.
	Subscribe(ctx context.Context) (<-chan string, error)
}

// RedisSlot keeps the snapshot under one key and announces changes on a
// pub/sub channel.
type RedisSlot struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisSlot(client *redis.Client, userID string) *RedisSlot {
	key := "local:" + userID
	return &RedisSlot{
		client:  client,
		key:     key,
		channel: key + ":changes",
	}
}

func (s *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load local snapshot: %w", err)
	}
	return data, nil
}

func (s *RedisSlot) Save(ctx context.Context, data []byte, origin string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, data, 0)
		pipe.Publish(ctx, s.channel, origin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save local snapshot: %w", err)
	}
	return nil
}

func (s *RedisSlot) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to local changes: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemorySlot is an in-process Slot. Stores built on the same MemorySlot see
// each other's changes the same way RedisSlot views do.
type MemorySlot struct {
	mu          sync.Mutex
	data        []byte
	subscribers map[chan string]struct{}
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{subscribers: make(map[chan string]struct{})}
}

func (s *MemorySlot) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *MemorySlot) Save(_ context.Context, data []byte, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	for ch := range s.subscribers {
		select {
		case ch <- origin:
		default:
			// slow subscriber; it re-reads the whole slot on the next signal anyway
		}
	}
	return nil
}

func (s *MemorySlot) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

