// Package events implements the process-wide, in-process publish/subscribe
// bus used to broadcast deliberation lifecycle notifications.
package events

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/conclave-ai/conclave/core"
)

// Listener receives events for a subscribed name. A listener that panics or
// returns is isolated by the bus — it cannot prevent other listeners from
// running or propagate a failure to the emitter.
type Listener func(event core.Event)

// Bus is a concurrency-safe publish/subscribe event bus. The zero value is
// not usable; construct with New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    core.Logger
}

// New builds an empty Bus. A nil logger is replaced with a no-op logger.
func New(logger core.Logger) *Bus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Bus{
		listeners: make(map[string][]Listener),
		logger:    logger,
	}
}

// Subscribe appends listener to the table for eventName. Registration is
// visible to any Emit call made after Subscribe returns.
func (b *Bus) Subscribe(eventName string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventName] = append(b.listeners[eventName], listener)
}

// Emit constructs an Event from name/payload/metadata and broadcasts it to
// every listener registered for that name at the time Emit is called.
func (b *Bus) Emit(name string, payload, metadata map[string]interface{}) core.Event {
	event := core.NewEvent(name, payload, metadata)
	b.Broadcast(event)
	return event
}

// Broadcast dispatches event to each listener registered for event.Name
// concurrently, waiting for all to complete before returning. A listener
// that panics is recovered and logged; it never prevents its siblings from
// running and never propagates to the caller.
func (b *Bus) Broadcast(event core.Event) {
	b.mu.RLock()
	// Copy-on-read snapshot: later Subscribe calls must not affect listeners
	// already mid-dispatch, and iterating the live slice under RLock would
	// hold the lock for the duration of every listener call.
	snapshot := make([]Listener, len(b.listeners[event.Name]))
	copy(snapshot, b.listeners[event.Name])
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, listener := range snapshot {
		wg.Add(1)
		go func(l Listener) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event listener panicked", map[string]interface{}{
						"event": event.Name,
						"panic": fmt.Sprintf("%v", r),
						"stack": string(debug.Stack()),
					})
				}
			}()
			l(event)
		}(listener)
	}
	wg.Wait()
}
