// Package runtime implements the admission-controlled runtime shell around
// the hybrid deliberation core: request lifecycle, cancellation, and
// event/hook emission, per spec.md §4.10.
package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// loggedRequest is one entry in the request log.
type loggedRequest struct {
	Payload   interface{}
	Timestamp time.Time
}

// State holds the process-wide counters and request log spec.md §3 names.
// Counters are atomic and the log is a sync.Map so that a status reader can
// observe a consistent snapshot without blocking request processing (spec:
// "readers must observe a consistent snapshot").
type State struct {
	bootTime         time.Time
	activeTasks      atomic.Int64
	completedTasks   atomic.Int64
	failedTasks      atomic.Int64
	lastHealthcheck  atomic.Int64 // unix nanos
	requestLog       sync.Map     // requestID -> loggedRequest
}

// NewState builds a State stamped with the current boot time.
func NewState() *State {
	s := &State{bootTime: time.Now()}
	s.lastHealthcheck.Store(time.Now().UnixNano())
	return s
}

// NewRequestID generates a fresh request id.
func (s *State) NewRequestID() string {
	return uuid.New().String()
}

// LogRequest records payload under requestID with the current timestamp.
func (s *State) LogRequest(requestID string, payload interface{}) {
	s.requestLog.Store(requestID, loggedRequest{Payload: payload, Timestamp: time.Now()})
}

// IncrementActive increments the in-flight request counter.
func (s *State) IncrementActive() { s.activeTasks.Add(1) }

// DecrementActive decrements the in-flight request counter, floored at 0.
func (s *State) DecrementActive() {
	for {
		cur := s.activeTasks.Load()
		if cur <= 0 {
			return
		}
		if s.activeTasks.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Complete increments the completed-request counter.
func (s *State) Complete() { s.completedTasks.Add(1) }

// Fail increments the failed-request counter.
func (s *State) Fail() { s.failedTasks.Add(1) }

// Touch updates the last-healthcheck timestamp to now.
func (s *State) Touch() { s.lastHealthcheck.Store(time.Now().UnixNano()) }

// Snapshot is a view of State's counters, each read atomically.
type Snapshot struct {
	BootTime        time.Time
	ActiveTasks     int64
	CompletedTasks  int64
	FailedTasks     int64
	LastHealthcheck time.Time
}

// Snapshot reads each counter atomically, one after another (the fields are
// not read together; callers needing cross-field consistency should treat
// small skew between fields as acceptable, per spec.md §5's read-write-lock-
// or-atomic-counters allowance).
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		BootTime:        s.bootTime,
		ActiveTasks:     s.activeTasks.Load(),
		CompletedTasks:  s.completedTasks.Load(),
		FailedTasks:     s.failedTasks.Load(),
		LastHealthcheck: time.Unix(0, s.lastHealthcheck.Load()),
	}
}
