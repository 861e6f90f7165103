// Package hooks implements the fixed-point-name hook manager that the
// router, critic driver, fusion stage, and runtime shell call into around
// each step of a deliberation.
package hooks

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/conclave-ai/conclave/core"
)

// Hook observes (and may mutate its own private copy of) the context map
// passed to Fire. Mutations are not shared with sibling hooks or the
// caller — see Manager.Fire.
type Hook func(context map[string]interface{})

var validPoints = map[string]bool{
	"before_router":       true,
	"after_router":        true,
	"before_critic":       true,
	"after_critic":        true,
	"before_fusion":       true,
	"after_fusion":        true,
	"before_runtime_step": true,
	"after_runtime_step":  true,
}

// Manager dispatches to hooks registered under one of the eight named hook
// points. Registering under any other name fails synchronously.
type Manager struct {
	mu     sync.RWMutex
	hooks  map[string][]Hook
	logger core.Logger
}

// New builds an empty Manager. A nil logger is replaced with a no-op logger.
func New(logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{
		hooks:  make(map[string][]Hook),
		logger: logger,
	}
}

// Register appends hook to the table for point. Returns ErrUnknownHookPoint
// if point is not one of the eight fixed names.
func (m *Manager) Register(point string, hook Hook) error {
	if !validPoints[point] {
		return &core.DeliberationError{
			Op: "hooks.Register", Kind: "hook", ID: point,
			Message: "unknown hook point", Err: core.ErrUnknownHookPoint,
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[point] = append(m.hooks[point], hook)
	return nil
}

// Fire invokes every hook registered at point concurrently, passing each
// one its own shallow copy of ctx so that no hook observes another's
// writes; the manager discards all copies after dispatch. Callers that need
// to aggregate hook writes should use the event bus instead.
func (m *Manager) Fire(point string, ctx map[string]interface{}) {
	m.mu.RLock()
	snapshot := make([]Hook, len(m.hooks[point]))
	copy(snapshot, m.hooks[point])
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, hook := range snapshot {
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("hook panicked", map[string]interface{}{
						"hook_point": point,
						"panic":      fmt.Sprintf("%v", r),
						"stack":      string(debug.Stack()),
					})
				}
			}()
			h(copyContext(ctx))
		}(hook)
	}
	wg.Wait()
}

func copyContext(ctx map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
