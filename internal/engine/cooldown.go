package engine

import (
	"time"

	"tidespike/internal/model"
)

// Cooldown remembers the observation time of the last published spike per
// station and reason. Callers serialize access.
type Cooldown struct {
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(station string, reason model.Reason, ts time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	key := station + "|" + string(reason)
	if prev, ok := c.last[key]; ok {
		d := ts.Sub(prev)
		if d < 0 {
			d = -d
		}
		if d < cooldown {
			return false
		}
	}
	c.last[key] = ts
	return true
}
