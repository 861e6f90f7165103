package fusion

import (
	"context"
	"errors"
	"testing"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"github.com/stretchr/testify/assert"
)

type fakeStorage struct {
	results []core.PrecedentRef
	err     error
}

func (f *fakeStorage) SearchEmbeddings(ctx context.Context, vector []float64, topK int) ([]core.PrecedentRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeStorage) Store(ctx context.Context, record map[string]interface{}) (string, error) {
	return "id-1", nil
}

func TestPrecedentFetchRelevantReturnsResults(t *testing.T) {
	storage := &fakeStorage{results: []core.PrecedentRef{{ID: "p1", Score: 0.9}}}
	e := NewPrecedentEngine(storage, nil, nil)
	got := e.FetchRelevant(context.Background(), []float64{0.1, 0.2}, 5)
	assert.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestPrecedentFetchRelevantNoStorageReturnsEmpty(t *testing.T) {
	e := NewPrecedentEngine(nil, nil, nil)
	got := e.FetchRelevant(context.Background(), []float64{0.1}, 5)
	assert.Empty(t, got)
}

func TestPrecedentFetchRelevantNilVectorReturnsEmpty(t *testing.T) {
	storage := &fakeStorage{results: []core.PrecedentRef{{ID: "p1"}}}
	e := NewPrecedentEngine(storage, nil, nil)
	got := e.FetchRelevant(context.Background(), nil, 5)
	assert.Empty(t, got)
}

func TestPrecedentFetchRelevantSwallowsStorageError(t *testing.T) {
	storage := &fakeStorage{err: errors.New("connection refused")}
	bus := events.New(nil)
	var gotErrorEvent bool
	bus.Subscribe("precedent.error", func(core.Event) { gotErrorEvent = true })

	e := NewPrecedentEngine(storage, bus, nil)
	got := e.FetchRelevant(context.Background(), []float64{0.1}, 5)
	assert.Empty(t, got)
	assert.True(t, gotErrorEvent)
}
