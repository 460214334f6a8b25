package executor

import (
	"math"
	"time"
)

// BackOff computes the next eligibility delay after a failed attempt.
//
// back_off(n) = retry_delay ^ n, i.e. retry_delay raised to the n-th power
// with retry_delay measured in seconds — a power-law schedule, not the
// doubling-plus-jitter schedule more commonly seen in retry implementations.
// With retry_delay = 1s, back_off(n) = 1s for every n, since 1 raised to any
// power is 1.
//
// n is always >= 1 (it is the ordinal of the attempt that just failed). No
// ceiling is applied; growth is unbounded by default.
func BackOff(retryDelay time.Duration, n int) time.Duration {
	if n <= 0 {
		n = 1
	}

	baseSeconds := retryDelay.Seconds()
	return time.Duration(math.Pow(baseSeconds, float64(n)) * float64(time.Second))
}
