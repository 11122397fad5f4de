package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker flushes every registered user on a ticker, and a single user as
// soon as Trigger is called for it.
type Worker struct {
	syncer   *Syncer
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	targets map[string]Local
	kick    chan string
}

func NewWorker(s *Syncer, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		syncer:   s,
		interval: interval,
		logger:   logger,
		targets:  make(map[string]Local),
		kick:     make(chan string, 64),
	}
}

func (w *Worker) Register(userID string, local Local) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[userID] = local
}

func (w *Worker) Unregister(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, userID)
}

// Trigger asks for a flush of userID without waiting for it. When the queue
// is full the next tick picks the user up.
func (w *Worker) Trigger(userID string) {
	select {
	case w.kick <- userID:
	default:
	}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case userID := <-w.kick:
			w.flush(ctx, userID)
		case <-ticker.C:
			for _, userID := range w.users() {
				w.flush(ctx, userID)
			}
		}
	}
}

func (w *Worker) users() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.targets))
	for id := range w.targets {
		ids = append(ids, id)
	}
	return ids
}

func (w *Worker) flush(ctx context.Context, userID string) {
	w.mu.Lock()
	local, ok := w.targets[userID]
	w.mu.Unlock()
	if !ok {
		return
	}
	result := w.syncer.Flush(ctx, userID, local)
	if result.Synced > 0 || result.Failed > 0 {
		w.logger.Debug("flushed pending ops",
			zap.String("user_id", userID),
			zap.Int("synced", result.Synced),
			zap.Int("failed", result.Failed),
			zap.Int("pending", result.Pending),
		)
	}
}
