package service

import "time"

// RateLimit is a provider's current API budget.
type RateLimit struct {
	// Remaining is the number of calls left in the
	// current window.
	Remaining int

	// ResetsIn is the delay until the budget resets.
	ResetsIn time.Duration
}

// Exhausted reports whether no budget remains.
func (r RateLimit) Exhausted() bool {
	return r.Remaining <= 0
}
