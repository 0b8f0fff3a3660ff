package catalog

import "github.com/samcharles93/aistudio/internal/model"

func (c *Catalog) enqueue(job probeJob) {
	select {
	case c.queue <- job:
	case <-c.ctx.Done():
	}
}

// dispatch hands queued probes to the worker group; Go blocks while every
// worker is busy.
func (c *Catalog) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case job := <-c.queue:
			c.group.Go(func() error {
				c.probe(job)
				return nil
			})
		}
	}
}

func (c *Catalog) probe(job probeJob) {
	c.mu.RLock()
	d, ok := c.models[job.id]
	current := ok && c.gen[job.id] == job.gen
	var path string
	if ok {
		path = d.ModelPath
	}
	c.mu.RUnlock()
	if !current {
		return
	}

	res := c.prober.Probe(c.ctx, path)
	if res.Interrupted() {
		c.log.Debug("probe interrupted", "id", job.id)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok = c.models[job.id]
	if !ok || c.gen[job.id] != job.gen {
		return
	}
	if err := d.Classify(res.Status, res.Detail()); err != nil {
		c.log.Warn("discarding probe result", "id", job.id, "status", res.Status, "error", err)
		return
	}
	if res.Format != "" {
		d.Format = string(res.Format)
	}
	if err := c.saveLocked(); err != nil {
		c.log.Error("save catalog", "error", err)
	}
	c.publishLocked(Event{Type: Updated, Model: *d})
}

// WaitSettled blocks until no model is CHECKING or done is closed.
func (c *Catalog) WaitSettled(done <-chan struct{}) bool {
	events, cancel := c.Subscribe()
	defer cancel()
	for {
		if !c.anyChecking() {
			return true
		}
		select {
		case _, ok := <-events:
			if !ok {
				return !c.anyChecking()
			}
		case <-done:
			return false
		}
	}
}

func (c *Catalog) anyChecking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.models {
		if d.Compatibility == model.Checking {
			return true
		}
	}
	return false
}
