// Package guard implements the independent risk checks consulted before a
// rebalance commits: slippage, price impact, cooldown, and volatility.
// Rejection is expected control flow, so checks return a Result rather than
// an error; errors are reserved for failures to evaluate (missing prices).
package guard

import "fmt"

// Result is a pass/fail outcome with a human-readable reason.
type Result struct {
	OK     bool
	Reason string
}

func pass(format string, args ...any) Result {
	return Result{OK: true, Reason: fmt.Sprintf(format, args...)}
}

func reject(format string, args ...any) Result {
	return Result{OK: false, Reason: fmt.Sprintf(format, args...)}
}
