package rotation

import "sync"

// ModelCycle rotates round-robin over the model identifiers configured for a
// stage, spreading load across model variants the same way keys rotate.
type ModelCycle struct {
	mu      sync.Mutex
	models  []string
	counter int
}

// NewModelCycle builds a cycle over the given identifiers. An empty list
// yields a cycle that always returns "".
func NewModelCycle(models []string) *ModelCycle {
	return &ModelCycle{models: models}
}

// Next returns the next model identifier in round-robin order.
func (c *ModelCycle) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.models) == 0 {
		return ""
	}
	m := c.models[c.counter%len(c.models)]
	c.counter++
	return m
}
