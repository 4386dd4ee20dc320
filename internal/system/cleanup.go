package system

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// CleanupManager runs a stack of shutdown hooks in LIFO order. Subsystems
// register a hook when they're constructed; main defers cm.Cleanup so
// every hook runs once, regardless of which return path exits serve().
type CleanupManager struct {
	mu    sync.Mutex
	hooks []func(context.Context) error
}

// NewCleanupManager returns an empty manager.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers a hook to run on Cleanup, most-recently-added first.
func (cm *CleanupManager) Add(hook func(context.Context) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks = append(cm.hooks, hook)
}

// Cleanup runs every registered hook, logging (not propagating) failures
// so one failed hook never prevents the rest from running.
func (cm *CleanupManager) Cleanup(ctx context.Context) {
	// Take the hooks out so a second Cleanup call runs nothing again.
	cm.mu.Lock()
	hooks := cm.hooks
	cm.hooks = nil
	cm.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			log.Error().Err(err).Msg("cleanup hook failed")
		}
	}
}
