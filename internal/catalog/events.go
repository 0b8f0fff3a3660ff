package catalog

import "github.com/samcharles93/aistudio/internal/model"

type EventType string

const (
	Updated EventType = "updated"
	Removed EventType = "removed"
)

// Event reports a change to one model.
type Event struct {
	Type  EventType        `json:"type"`
	Model model.Descriptor `json:"model"`
}

const subscriberBuffer = 32

// Subscribe returns a channel of catalog changes. Slow subscribers miss
// events rather than stall the catalog. Call cancel when done.
func (c *Catalog) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

func (c *Catalog) publishLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
