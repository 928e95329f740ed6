package guard

import (
	"strings"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCooldownFirstExecutionPasses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCooldown(time.Hour, clock.now)

	if res := c.Check(); !res.OK {
		t.Fatalf("first check should pass: %s", res.Reason)
	}
}

func TestCooldownRejectsWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCooldown(time.Hour, clock.now)

	c.RecordExecution()
	clock.advance(10 * time.Millisecond)

	res := c.Check()
	if res.OK {
		t.Fatalf("check within cooldown should reject")
	}
	if !strings.Contains(res.Reason, "3599990 ms remaining") {
		t.Fatalf("reason should carry remaining ms, got %q", res.Reason)
	}
}

func TestCooldownPassesAfterWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCooldown(time.Hour, clock.now)

	c.RecordExecution()
	clock.advance(time.Hour)

	if res := c.Check(); !res.OK {
		t.Fatalf("check after cooldown should pass: %s", res.Reason)
	}
}
