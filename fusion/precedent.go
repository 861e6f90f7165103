package fusion

import (
	"context"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
)

// StorageBackend is the external, optional collaborator the precedent
// engine consumes (spec.md §6: "storage backend (consumed, optional)").
// The core never implements persistence itself.
type StorageBackend interface {
	SearchEmbeddings(ctx context.Context, vector []float64, topK int) ([]core.PrecedentRef, error)
	Store(ctx context.Context, record map[string]interface{}) (string, error)
}

// PrecedentEngine is a thin, failure-tolerant wrapper over an optional
// StorageBackend. Retrieval never fails the deliberation: absence of a
// backend, a nil vector, or a storage error all resolve to an empty slice.
type PrecedentEngine struct {
	storage StorageBackend
	bus     *events.Bus
	logger  core.Logger
}

// NewPrecedentEngine builds an engine over storage. A nil storage disables
// retrieval entirely; a nil bus/logger installs a no-op.
func NewPrecedentEngine(storage StorageBackend, bus *events.Bus, logger core.Logger) *PrecedentEngine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PrecedentEngine{storage: storage, bus: bus, logger: logger}
}

// FetchRelevant retrieves up to topK precedents similar to vector. Any
// failure — missing backend, nil vector, or a storage error — is logged and
// swallowed, per spec.md §4.7.
func (p *PrecedentEngine) FetchRelevant(ctx context.Context, vector []float64, topK int) []core.PrecedentRef {
	if p.storage == nil || vector == nil {
		return nil
	}
	if topK <= 0 {
		topK = 5
	}

	results, err := p.storage.SearchEmbeddings(ctx, vector, topK)
	if err != nil {
		p.logger.Warn("precedent storage error", map[string]interface{}{"error": err.Error()})
		if p.bus != nil {
			p.bus.Emit("precedent.error", map[string]interface{}{"error": err.Error()}, nil)
		}
		return nil
	}
	return results
}
