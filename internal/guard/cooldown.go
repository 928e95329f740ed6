package guard

import "time"

// Cooldown enforces a minimum spacing between executed rebalances. It is the
// only guard that keeps state across cycles: the last execution timestamp.
type Cooldown struct {
	duration time.Duration
	now      func() time.Time
	last     time.Time
	executed bool
}

// NewCooldown builds a cooldown guard. now may be nil, defaulting to
// time.Now (tests inject a fake clock).
func NewCooldown(duration time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{duration: duration, now: now}
}

// Check passes if no execution has been recorded yet, or if the cooldown has
// elapsed since the last one.
func (c *Cooldown) Check() Result {
	if !c.executed {
		return pass("cooldown: no prior execution")
	}
	elapsed := c.now().Sub(c.last)
	if elapsed >= c.duration {
		return pass("cooldown: %s elapsed since last execution", elapsed)
	}
	remaining := c.duration - elapsed
	return reject("cooldown: %d ms remaining", remaining.Milliseconds())
}

// RecordExecution stamps the current time as the last execution.
func (c *Cooldown) RecordExecution() {
	c.last = c.now()
	c.executed = true
}
