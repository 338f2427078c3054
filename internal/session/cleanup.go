package session

import (
	"context"
	"sync"
	"time"

	"github.com/dellavolpe/rnc-front/internal/log"
)

// CleanupManager handles periodic removal of expired sessions
type CleanupManager struct {
	store    Store
	interval time.Duration
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(store Store, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting session cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop stops the cleanup loop and waits for it to finish
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() {
		close(cm.stopChan)
		<-cm.doneChan
		log.LogInfoWithFields("cleanup", "Session cleanup manager stopped", nil)
	})
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired sessions", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired sessions", map[string]any{
			"count": count,
		})
	}
}
