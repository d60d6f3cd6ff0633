package fusion

import (
	"sort"
	"sync"
)

// DefaultObjectID is used for measurements that carry no object ID.
const DefaultObjectID = "default"

// Bank holds one Controller per tracked object. Controllers are created
// lazily on the first measurement for an ID. Bank is safe for concurrent
// use; measurements for one object are applied in call order.
type Bank struct {
	params Params

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewBank validates p and returns an empty Bank.
func NewBank(p Params) (*Bank, error) {
	// validate once up front so lazy creation cannot fail on params
	if _, err := NewController(p); err != nil {
		return nil, err
	}
	return &Bank{params: p, controllers: make(map[string]*Controller)}, nil
}

func objectKey(id string) string {
	if id == "" {
		return DefaultObjectID
	}
	return id
}

// Process routes m to the controller for m.ObjectID.
func (b *Bank) Process(m Measurement) (Result, error) {
	key := objectKey(m.ObjectID)

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.controllers[key]
	if !ok {
		if err := m.Validate(); err != nil {
			return Result{}, err
		}
		c = &Controller{params: b.params}
		b.controllers[key] = c
	}
	return c.ProcessMeasurement(m)
}

// Estimate returns the current estimate for id.
func (b *Bank) Estimate(id string) (Estimate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.controllers[objectKey(id)]
	if !ok {
		return Estimate{}, false
	}
	return c.Estimate()
}

// Estimates returns the current estimate of every initialised object.
func (b *Bank) Estimates() map[string]Estimate {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Estimate, len(b.controllers))
	for id, c := range b.controllers {
		if est, ok := c.Estimate(); ok {
			out[id] = est
		}
	}
	return out
}

// Stats returns the counters for id.
func (b *Bank) Stats(id string) (Stats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.controllers[objectKey(id)]
	if !ok {
		return Stats{}, false
	}
	return c.Stats(), true
}

// Objects returns the known object IDs in sorted order.
func (b *Bank) Objects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.controllers))
	for id := range b.controllers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops the controller for id. It reports whether one existed.
func (b *Bank) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := objectKey(id)
	if _, ok := b.controllers[key]; !ok {
		return false
	}
	delete(b.controllers, key)
	return true
}
